package mastobot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ServiceEntry describes a registered service.
type ServiceEntry struct {
	Name         string
	Service      Service
	RegisteredAt time.Time
}

// CapabilityRegistry maps lower-case service names to live services.
// Services are inserted during the services phase only; after Seal the
// registry is read-only and modules may look services up concurrently.
type CapabilityRegistry struct {
	mu       sync.RWMutex
	services map[string]*ServiceEntry
	sealed   bool
}

// NewCapabilityRegistry creates an empty, unsealed registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		services: make(map[string]*ServiceEntry),
	}
}

// Insert registers a service under its lower-cased name.
func (r *CapabilityRegistry) Insert(name string, svc Service) error {
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot insert '%s'", ErrRegistrySealed, key)
	}
	if _, exists := r.services[key]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, key)
	}

	r.services[key] = &ServiceEntry{
		Name:         key,
		Service:      svc,
		RegisteredAt: time.Now(),
	}
	return nil
}

// Seal makes the registry read-only. Sealing twice is a no-op.
func (r *CapabilityRegistry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *CapabilityRegistry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the service registered under name, matched case-insensitively.
func (r *CapabilityRegistry) Get(name string) (Service, error) {
	r.mu.RLock()
	entry, exists := r.services[strings.ToLower(name)]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, strings.ToLower(name))
	}
	return entry.Service, nil
}

// Names returns the registered service names in sorted order.
func (r *CapabilityRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns the registered services ordered by name.
func (r *CapabilityRegistry) Entries() []ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceEntry, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered services.
func (r *CapabilityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Lookup retrieves a service by name and asserts it to T.
//
//	files, err := mastobot.Lookup[mastobot.FileService](registry, "mega")
func Lookup[T any](r *CapabilityRegistry, name string) (T, error) {
	var zero T

	svc, err := r.Get(name)
	if err != nil {
		return zero, err
	}

	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: service '%s' is %T, want %T", ErrServiceWrongType, strings.ToLower(name), svc, (*T)(nil))
	}
	return typed, nil
}
