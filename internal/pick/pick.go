// Package pick chooses random items while avoiding recently chosen ones.
package pick

import (
	"errors"
	"math/rand/v2"
	"sync"
)

// ErrNoCandidates is returned when there is nothing to choose from.
var ErrNoCandidates = errors.New("pick: no candidates")

// Picker remembers the last picks and avoids them. When every candidate
// was picked recently it falls back to any candidate except the latest
// pick, so a small folder never stalls. Safe for concurrent use.
type Picker struct {
	mu     sync.Mutex
	memory int
	recent []string
	rng    *rand.Rand
}

// Option configures a Picker.
type Option func(*Picker)

// WithRand sets the random source, mostly for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Picker) {
		if r != nil {
			p.rng = r
		}
	}
}

// New creates a picker remembering the last memory picks.
func New(memory int, opts ...Option) *Picker {
	if memory < 0 {
		memory = 0
	}
	p := &Picker{
		memory: memory,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pick chooses one of candidates and remembers it.
func (p *Picker) Pick(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	recent := make(map[string]bool, len(p.recent))
	for _, r := range p.recent {
		recent[r] = true
	}

	pool := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !recent[c] {
			pool = append(pool, c)
		}
	}

	if len(pool) == 0 {
		last := ""
		if n := len(p.recent); n > 0 {
			last = p.recent[n-1]
		}
		for _, c := range candidates {
			if c != last {
				pool = append(pool, c)
			}
		}
		if len(pool) == 0 {
			pool = candidates
		}
	}

	choice := pool[p.rng.IntN(len(pool))]
	p.remember(choice)
	return choice, nil
}

// Forget drops a remembered pick, used when posting it failed.
func (p *Picker) Forget(item string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.recent) - 1; i >= 0; i-- {
		if p.recent[i] == item {
			p.recent = append(p.recent[:i], p.recent[i+1:]...)
			return
		}
	}
}

// Recent returns the remembered picks, oldest first.
func (p *Picker) Recent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.recent...)
}

func (p *Picker) remember(item string) {
	if p.memory == 0 {
		return
	}
	p.recent = append(p.recent, item)
	if len(p.recent) > p.memory {
		p.recent = p.recent[len(p.recent)-p.memory:]
	}
}
