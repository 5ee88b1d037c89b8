package mastobot

import (
	"fmt"

	"github.com/GoCodeAlone/mastobot/scheduler"
)

// ModuleContext is handed to Module.Start. It binds schedule registration
// to the module and resolves the services the module may use.
type ModuleContext struct {
	name      string
	scheduler *scheduler.Scheduler
	registry  *CapabilityRegistry
	logger    Logger
	entries   []scheduler.EntryID
}

func newModuleContext(name string, s *scheduler.Scheduler, r *CapabilityRegistry, logger Logger) *ModuleContext {
	return &ModuleContext{
		name:      name,
		scheduler: s,
		registry:  r,
		logger:    logger,
	}
}

// Name returns the module name the context is bound to.
func (mc *ModuleContext) Name() string {
	return mc.name
}

// Logger returns a logger tagged with the module.
func (mc *ModuleContext) Logger() Logger {
	return mc.logger
}

// Schedule registers fn to run on every tick of spec. Entries of a module
// whose Start fails are removed again.
func (mc *ModuleContext) Schedule(name, spec string, fn scheduler.Func) (scheduler.EntryID, error) {
	id, err := mc.scheduler.Register(mc.name, name, spec, fn)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStart, err)
	}
	mc.entries = append(mc.entries, id)
	return id, nil
}

// Entries returns the entries registered through this context.
func (mc *ModuleContext) Entries() []scheduler.EntryID {
	return append([]scheduler.EntryID(nil), mc.entries...)
}

// Service returns a service from the registry. A missing service is an
// ErrStart failure.
func (mc *ModuleContext) Service(name string) (Service, error) {
	svc, err := mc.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	return svc, nil
}

// FileService returns a registered service that implements FileService.
func (mc *ModuleContext) FileService(name string) (FileService, error) {
	fs, err := Lookup[FileService](mc.registry, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	return fs, nil
}
