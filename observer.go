package mastobot

import (
	"context"
	"sort"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// runtime events. Events use the CloudEvents specification.
type Observer interface {
	// OnEvent is called when an event occurs that the observer is interested in.
	// Observers should handle events quickly; they are called synchronously
	// so that event order matches transition order.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the runtime. A lifecycle transition into state S
// is emitted as "com.mastobot.unit.<S>".
const (
	EventTypeUnitInstantiated = "com.mastobot.unit.instantiated"
	EventTypeUnitConfigured   = "com.mastobot.unit.configured"
	EventTypeUnitConnected    = "com.mastobot.unit.connected"
	EventTypeUnitStarted      = "com.mastobot.unit.started"
	EventTypeUnitRunning      = "com.mastobot.unit.running"
	EventTypeUnitFailed       = "com.mastobot.unit.failed"

	EventTypeRegistrySealed = "com.mastobot.registry.sealed"
	EventTypeRuntimeLoaded  = "com.mastobot.runtime.loaded"
	EventTypeRuntimeStopped = "com.mastobot.runtime.stopped"
)

// EventSource is the CloudEvents source attribute of runtime events.
const EventSource = "mastobot/runtime"

func eventTypeForState(s State) string {
	return "com.mastobot.unit." + s.String()
}

// FunctionalObserver provides a simple way to create observers using functions.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates a new observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// subject keeps the registered observers and fans events out to them.
type subject struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
	logger    Logger
}

func newSubject(logger Logger) *subject {
	return &subject{
		observers: make(map[string]*observerRegistration),
		logger:    logger,
	}
}

// RegisterObserver adds an observer. With no eventTypes it receives all
// events. Registering the same ID again replaces the earlier registration.
func (s *subject) RegisterObserver(observer Observer, eventTypes ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	types := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = true
	}
	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   types,
		registeredAt: time.Now(),
	}

	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. It is idempotent.
func (s *subject) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observers, observer.ObserverID())
	return nil
}

// GetObservers returns the registered observers ordered by ID.
func (s *subject) GetObservers() []ObserverInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(s.observers))
	for _, reg := range s.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registeredAt,
		})
	}
	sort.Slice(info, func(i, j int) bool { return info[i].ID < info[j].ID })
	return info
}

// NotifyObservers validates the event and delivers it to every interested
// observer. Observer errors and panics are logged and never reach the
// emitter.
func (s *subject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	s.mu.RLock()
	regs := make([]*observerRegistration, 0, len(s.observers))
	for _, reg := range s.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		regs = append(regs, reg)
	}
	s.mu.RUnlock()

	for _, reg := range regs {
		s.deliver(ctx, reg.observer, event)
	}
	return nil
}

func (s *subject) deliver(ctx context.Context, observer Observer, event cloudevents.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Observer panicked", "observerID", observer.ObserverID(), "event", event.Type(), "panic", r)
		}
	}()

	if err := observer.OnEvent(ctx, event); err != nil {
		s.logger.Error("Observer error", "observerID", observer.ObserverID(), "event", event.Type(), "error", err)
	}
}

func (s *subject) emit(ctx context.Context, eventType string, data any) {
	event := NewCloudEvent(eventType, EventSource, data, nil)
	if err := s.NotifyObservers(ctx, event); err != nil {
		s.logger.Debug("Failed to emit event", "eventType", eventType, "error", err)
	}
}
