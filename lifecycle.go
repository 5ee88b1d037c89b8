package mastobot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// UnitStatus is a snapshot of one tracked unit.
type UnitStatus struct {
	Kind      Kind
	Name      string
	State     State
	Options   map[string]string
	Err       error
	UpdatedAt time.Time
}

type unitKey struct {
	kind Kind
	name string
}

type unitRecord struct {
	status UnitStatus
	seq    int
}

// LifecycleManager tracks the state of every unit and validates each
// transition against the lifecycle table. Modules are loaded concurrently,
// so all methods are safe for concurrent use.
type LifecycleManager struct {
	mu      sync.RWMutex
	units   map[unitKey]*unitRecord
	seq     int
	logger  Logger
	subject *subject
}

// NewLifecycleManager creates a manager that logs through logger and
// publishes transition events to subject. Either may be nil.
func NewLifecycleManager(logger Logger, s *subject) *LifecycleManager {
	if logger == nil {
		logger = nopLogger{}
	}
	if s == nil {
		s = newSubject(logger)
	}
	return &LifecycleManager{
		units:   make(map[unitKey]*unitRecord),
		logger:  logger,
		subject: s,
	}
}

// Track starts tracking a freshly instantiated unit.
func (m *LifecycleManager) Track(ctx context.Context, kind Kind, name string) error {
	key := unitKey{kind, name}

	m.mu.Lock()
	if _, exists := m.units[key]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %q is already tracked", ErrInvalidTransition, kind, name)
	}
	m.seq++
	m.units[key] = &unitRecord{
		status: UnitStatus{Kind: kind, Name: name, State: StateInstantiated, UpdatedAt: time.Now()},
		seq:    m.seq,
	}
	m.mu.Unlock()

	m.logger.Debug("Unit instantiated", "kind", kind.String(), "unit", name)
	m.subject.emit(ctx, EventTypeUnitInstantiated, UnitEventData{Kind: kind.String(), Unit: name, To: StateInstantiated.String()})
	return nil
}

// Configured moves a unit to Configured and records its resolved options.
// The options are immutable from here on.
func (m *LifecycleManager) Configured(ctx context.Context, kind Kind, name string, options map[string]string) error {
	frozen := make(map[string]string, len(options))
	for k, v := range options {
		frozen[k] = v
	}
	return m.transition(ctx, kind, name, StateConfigured, func(st *UnitStatus) {
		st.Options = frozen
	})
}

// Transition moves a unit to state to. Transitions outside the lifecycle
// table return ErrInvalidTransition. Use Fail to move a unit to Failed.
func (m *LifecycleManager) Transition(ctx context.Context, kind Kind, name string, to State) error {
	if to == StateFailed {
		return fmt.Errorf("%w: use Fail to mark %s %q failed", ErrInvalidTransition, kind, name)
	}
	return m.transition(ctx, kind, name, to, nil)
}

func (m *LifecycleManager) transition(ctx context.Context, kind Kind, name string, to State, mutate func(*UnitStatus)) error {
	key := unitKey{kind, name}

	m.mu.Lock()
	rec, exists := m.units[key]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %q", ErrUnitNotTracked, kind, name)
	}
	from := rec.status.State
	if !canTransition(kind, from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s %q cannot go from %s to %s", ErrInvalidTransition, kind, name, from, to)
	}
	rec.status.State = to
	rec.status.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&rec.status)
	}
	m.mu.Unlock()

	m.logger.Debug("Unit transition", "kind", kind.String(), "unit", name, "from", from.String(), "to", to.String())
	m.subject.emit(ctx, eventTypeForState(to), UnitEventData{Kind: kind.String(), Unit: name, From: from.String(), To: to.String()})
	return nil
}

// Fail marks a unit Failed. The cause is wrapped in a UnitError classed by
// phase unless it already carries a failure class. One error line naming
// the unit kind, the unit and the cause is logged. Failed is terminal: a
// unit that already failed keeps its first error.
func (m *LifecycleManager) Fail(ctx context.Context, kind Kind, name string, phase, cause error) *UnitError {
	var unitErr *UnitError
	if !errors.As(cause, &unitErr) || unitErr.Unit != name || unitErr.Kind != kind {
		unitErr = &UnitError{Kind: kind, Unit: name, Phase: classify(cause, phase), Err: cause}
	}

	key := unitKey{kind, name}

	m.mu.Lock()
	rec, exists := m.units[key]
	if !exists {
		m.seq++
		rec = &unitRecord{status: UnitStatus{Kind: kind, Name: name, State: StateInstantiated}, seq: m.seq}
		m.units[key] = rec
	}
	from := rec.status.State
	if from.Terminal() {
		m.mu.Unlock()
		if prev, ok := rec.status.Err.(*UnitError); ok {
			return prev
		}
		return unitErr
	}
	rec.status.State = StateFailed
	rec.status.Err = unitErr
	rec.status.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.logger.Error("Unit failed", "kind", kind.String(), "unit", name, "phase", unitErr.Phase.Error(), "error", unitErr.Err)
	m.subject.emit(ctx, EventTypeUnitFailed, UnitEventData{
		Kind:  kind.String(),
		Unit:  name,
		From:  from.String(),
		To:    StateFailed.String(),
		Error: unitErr.Error(),
	})
	return unitErr
}

// State returns the current state of a unit.
func (m *LifecycleManager) State(kind Kind, name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.units[unitKey{kind, name}]
	if !exists {
		return 0, false
	}
	return rec.status.State, true
}

// Status returns a snapshot of one unit.
func (m *LifecycleManager) Status(kind Kind, name string) (UnitStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.units[unitKey{kind, name}]
	if !exists {
		return UnitStatus{}, false
	}
	return rec.status, true
}

// Snapshot returns every tracked unit, services first, each kind in the
// order the units were first tracked.
func (m *LifecycleManager) Snapshot() []UnitStatus {
	m.mu.RLock()
	recs := make([]unitRecord, 0, len(m.units))
	for _, rec := range m.units {
		recs = append(recs, *rec)
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].status.Kind != recs[j].status.Kind {
			return recs[i].status.Kind < recs[j].status.Kind
		}
		return recs[i].seq < recs[j].seq
	})

	out := make([]UnitStatus, len(recs))
	for i, rec := range recs {
		out[i] = rec.status
	}
	return out
}

// Units returns the sorted names of the units of kind currently in state.
func (m *LifecycleManager) Units(kind Kind, state State) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for key, rec := range m.units {
		if key.kind == kind && rec.status.State == state {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}
