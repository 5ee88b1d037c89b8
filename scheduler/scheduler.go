// Package scheduler runs recurring callbacks on cron-style trigger
// specifications.
//
// Every tick of an entry runs its callback in its own goroutine through a
// wrapper that logs the invocation, recovers panics and records the
// outcome. A failing callback never affects the driving clock or any other
// entry, and it is not retried: the entry simply fires again on its next
// tick. Missed ticks are not replayed and an invocation may overlap the
// previous invocation of the same entry.
//
// Basic usage:
//
//	s := scheduler.New(scheduler.WithLogger(logger))
//	id, err := s.Register("poster", "postImage", "0 * * * *", func(ctx context.Context) error {
//	    return postImage(ctx)
//	})
//	s.Start(ctx)
//	defer s.Stop()
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// Func is a scheduled callback.
type Func func(ctx context.Context) error

// Logger is the structured logger used by the scheduler. It matches the
// runtime's Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// EntryID identifies a schedule entry.
type EntryID string

// Entry describes a live schedule entry.
type Entry struct {
	ID        EntryID   `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	CreatedAt time.Time `json:"createdAt"`
	Next      time.Time `json:"next,omitempty"`
	Prev      time.Time `json:"prev,omitempty"`
}

// ExecutionStatus is the outcome of one invocation.
type ExecutionStatus string

const (
	// ExecutionCompleted indicates the callback returned nil
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed indicates the callback returned an error or panicked
	ExecutionFailed ExecutionStatus = "failed"
)

// Execution records details about a single invocation of an entry.
type Execution struct {
	EntryID   EntryID         `json:"entryId"`
	Owner     string          `json:"owner"`
	Name      string          `json:"name"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
	Status    ExecutionStatus `json:"status"`
	Manual    bool            `json:"manual,omitempty"`
	Err       error           `json:"-"`
}

type entry struct {
	Entry
	fn     Func
	cronID cron.EntryID
}

// Scheduler handles registering and firing schedule entries.
type Scheduler struct {
	cron         *cron.Cron
	logger       Logger
	location     *time.Location
	historyLimit int
	registerer   prometheus.Registerer
	metrics      *metrics
	history      *historyStore

	mu      sync.RWMutex
	entries map[EntryID]*entry

	runMu   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// Option defines a function that can configure a scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocation sets the time zone trigger specifications are evaluated in
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithHistoryLimit sets how many executions are kept per entry
func WithHistoryLimit(limit int) Option {
	return func(s *Scheduler) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// WithMetrics registers invocation metrics with the given registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.registerer = reg
	}
}

// New creates a new scheduler
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       nopLogger{},
		location:     time.Local,
		historyLimit: 20,
		entries:      make(map[EntryID]*entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.history = newHistoryStore(s.historyLimit)
	s.cron = cron.New(cron.WithLocation(s.location))

	if s.registerer != nil {
		m, err := newMetrics(s.registerer, s)
		if err != nil {
			s.logger.Warn("Scheduler metrics disabled", "error", err)
		} else {
			s.metrics = m
		}
	}

	return s
}

// Register binds a callback owned by owner to a trigger specification.
// The entry becomes live immediately; it fires once the scheduler is
// started.
func (s *Scheduler) Register(owner, name, spec string, fn Func) (EntryID, error) {
	if owner == "" {
		return "", ErrMissingOwner
	}
	if fn == nil {
		return "", ErrNilCallback
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %w", ErrInvalidSpec, spec, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	e := &entry{
		Entry: Entry{
			ID:        EntryID(id.String()),
			Owner:     owner,
			Name:      name,
			Spec:      spec,
			CreatedAt: time.Now(),
		},
		fn: fn,
	}

	s.mu.Lock()
	e.cronID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.run(s.runContext(), e, false)
	}))
	s.entries[e.ID] = e
	s.mu.Unlock()

	s.logger.Info("Scheduled function", "owner", owner, "function", name, "schedule", spec, "id", e.ID)
	return e.ID, nil
}

// Remove deletes a single entry.
func (s *Scheduler) Remove(id EntryID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		s.cron.Remove(e.cronID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	s.history.remove(id)
	return nil
}

// RemoveOwner deletes every entry registered by owner and returns how many
// were removed.
func (s *Scheduler) RemoveOwner(owner string) int {
	s.mu.Lock()
	var removed []EntryID
	for id, e := range s.entries {
		if e.Owner == owner {
			s.cron.Remove(e.cronID)
			delete(s.entries, id)
			removed = append(removed, id)
		}
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.history.remove(id)
	}
	if len(removed) > 0 {
		s.logger.Debug("Removed schedule entries", "owner", owner, "count", len(removed))
	}
	return len(removed)
}

// Len returns the number of live entries.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entry returns one entry with its next and previous fire times.
func (s *Scheduler) Entry(id EntryID) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	return s.describe(e), true
}

// Entries returns every live entry ordered by owner and name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	list := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		list = append(list, e)
	}
	s.mu.RUnlock()

	out := make([]Entry, 0, len(list))
	for _, e := range list {
		out = append(out, s.describe(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// History returns the recorded executions of an entry, oldest first.
func (s *Scheduler) History(id EntryID) []Execution {
	return s.history.get(id)
}

// Trigger runs an entry immediately in the calling goroutine, outside of
// its schedule. The execution goes through the same fault-isolating
// wrapper as a regular tick.
func (s *Scheduler) Trigger(ctx context.Context, id EntryID) (Execution, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return s.run(ctx, e, true), nil
}

// Start begins firing entries. Callbacks receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true

	s.logger.Info("Starting scheduler", "entries", s.Len())
	return nil
}

// Stop stops the driving clock and cancels the context handed to running
// callbacks. Running invocations are not awaited.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.started {
		return
	}

	s.cancel()
	s.cron.Stop()
	s.started = false

	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runContext() context.Context {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) describe(e *entry) Entry {
	out := e.Entry
	ce := s.cron.Entry(e.cronID)
	if ce.Valid() {
		out.Next = ce.Next
		out.Prev = ce.Prev
	}
	return out
}

// run is the fault-isolating wrapper around every invocation.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) Execution {
	s.logger.Info("Executing scheduled function", "owner", e.Owner, "function", e.Name, "id", e.ID, "manual", manual)

	exec := Execution{
		EntryID:   e.ID,
		Owner:     e.Owner,
		Name:      e.Name,
		StartTime: time.Now(),
		Manual:    manual,
	}

	err := invoke(ctx, e.fn)
	exec.EndTime = time.Now()

	if err != nil {
		exec.Status = ExecutionFailed
		exec.Err = fmt.Errorf("%w: %w", ErrInvocation, err)
		s.logger.Error("Exception occurred in scheduled function", "owner", e.Owner, "function", e.Name, "id", e.ID, "error", err)
	} else {
		exec.Status = ExecutionCompleted
		s.logger.Debug("Scheduled function completed", "owner", e.Owner, "function", e.Name, "id", e.ID, "duration", exec.EndTime.Sub(exec.StartTime))
	}

	s.history.add(exec)
	s.metrics.observe(exec)
	return exec
}

func invoke(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return fn(ctx)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
