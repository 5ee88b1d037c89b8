package mastobot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/mastobot/feeders"
	"github.com/GoCodeAlone/mastobot/posting"
	"github.com/GoCodeAlone/mastobot/posting/mastodon"
	"github.com/GoCodeAlone/mastobot/scheduler"
)

type pendingObserver struct {
	observer   Observer
	eventTypes []string
}

// Runtime is the composition root. It loads every service, then every
// module, and keeps the scheduler running until its context ends.
type Runtime struct {
	logger      Logger
	catalog     *Catalog
	source      ConfigSource
	prefix      string
	client      posting.Client
	sched       *scheduler.Scheduler
	concurrency int
	observers   []pendingObserver

	subject   *subject
	lifecycle *LifecycleManager
	registry  *CapabilityRegistry
	resolver  *ConfigResolver

	mu       sync.RWMutex
	loaded   bool
	services map[string]Service
	modules  map[string]Module
}

// NewRuntime creates a runtime. Without options it discovers units from
// DefaultCatalog, resolves their options from the process environment
// under DefaultPrefix and posts through Mastodon.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		logger:   nopLogger{},
		catalog:  DefaultCatalog,
		prefix:   DefaultPrefix,
		services: make(map[string]Service),
		modules:  make(map[string]Module),
	}

	for _, opt := range opts {
		opt(rt)
	}

	if rt.source == nil {
		rt.source = feeders.NewEnvCatalog()
	}
	if rt.client == nil {
		rt.client = mastodon.NewClient()
	}
	if rt.sched == nil {
		rt.sched = scheduler.New(scheduler.WithLogger(rt.logger))
	}

	rt.subject = newSubject(rt.logger)
	for _, p := range rt.observers {
		_ = rt.subject.RegisterObserver(p.observer, p.eventTypes...)
	}
	rt.lifecycle = NewLifecycleManager(rt.logger, rt.subject)
	rt.registry = NewCapabilityRegistry()
	rt.resolver = NewConfigResolver(rt.prefix, rt.source, rt.logger)

	return rt
}

// Registry returns the capability registry.
func (rt *Runtime) Registry() *CapabilityRegistry { return rt.registry }

// Lifecycle returns the lifecycle manager.
func (rt *Runtime) Lifecycle() *LifecycleManager { return rt.lifecycle }

// Scheduler returns the scheduler modules register entries with.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// RegisterObserver adds an observer for runtime events.
func (rt *Runtime) RegisterObserver(observer Observer, eventTypes ...string) error {
	return rt.subject.RegisterObserver(observer, eventTypes...)
}

// UnregisterObserver removes an observer. Removing an unknown observer is
// not an error.
func (rt *Runtime) UnregisterObserver(observer Observer) error {
	return rt.subject.UnregisterObserver(observer)
}

// GetObservers returns the registered observers.
func (rt *Runtime) GetObservers() []ObserverInfo {
	return rt.subject.GetObservers()
}

// ActiveModules returns the sorted names of the modules that reached
// Running.
func (rt *Runtime) ActiveModules() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]string, 0, len(rt.modules))
	for name := range rt.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Module returns an active module by name.
func (rt *Runtime) Module(name string) (Module, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	m, ok := rt.modules[name]
	return m, ok
}

// Load runs the services phase, seals the registry and runs the modules
// phase. Unit failures are logged and isolated; Load itself only fails
// when called twice.
func (rt *Runtime) Load(ctx context.Context) error {
	rt.mu.Lock()
	if rt.loaded {
		rt.mu.Unlock()
		return ErrRuntimeLoaded
	}
	rt.loaded = true
	rt.mu.Unlock()

	if rt.catalog.Len() == 0 {
		rt.logger.Warn("No units discovered", "prefix", rt.prefix)
	}

	rt.loadServices(ctx)

	rt.registry.Seal()
	rt.logger.Info("Services loaded", "services", rt.registry.Names())
	rt.subject.emit(ctx, EventTypeRegistrySealed, map[string]any{"services": rt.registry.Names()})

	rt.loadModules(ctx)

	active := rt.ActiveModules()
	failed := rt.lifecycle.Units(KindModule, StateFailed)
	rt.logger.Info("Modules loaded", "active", active, "failed", failed)
	if rt.sched.Len() == 0 {
		rt.logger.Warn("No schedule entries registered")
	}

	rt.subject.emit(ctx, EventTypeRuntimeLoaded, map[string]any{
		"services": rt.registry.Names(),
		"modules":  active,
		"entries":  rt.sched.Len(),
	})
	return nil
}

// Run loads the units, starts the scheduler and blocks until ctx is done.
// Failing units never make Run return an error.
func (rt *Runtime) Run(ctx context.Context) error {
	if err := rt.Load(ctx); err != nil {
		return err
	}
	if err := rt.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()

	rt.Shutdown(context.WithoutCancel(ctx))
	return nil
}

// Shutdown stops the scheduler and every running unit that implements
// Stopper. Running invocations are not awaited.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.sched.Stop()

	rt.mu.RLock()
	stoppers := make([]Discovered, 0, len(rt.services)+len(rt.modules))
	for name, m := range rt.modules {
		stoppers = append(stoppers, Discovered{Kind: KindModule, Name: name, Unit: m})
	}
	for name, s := range rt.services {
		stoppers = append(stoppers, Discovered{Kind: KindService, Name: name, Unit: s})
	}
	rt.mu.RUnlock()

	// modules before the services they use
	sort.Slice(stoppers, func(i, j int) bool {
		if stoppers[i].Kind != stoppers[j].Kind {
			return stoppers[i].Kind > stoppers[j].Kind
		}
		return stoppers[i].Name < stoppers[j].Name
	})

	for _, d := range stoppers {
		stopper, ok := d.Unit.(Stopper)
		if !ok {
			continue
		}
		if err := stopper.Stop(ctx); err != nil {
			rt.logger.Warn("Failed to stop unit", "kind", d.Kind.String(), "unit", d.Name, "error", err)
		}
	}

	rt.logger.Info("Runtime stopped")
	rt.subject.emit(ctx, EventTypeRuntimeStopped, nil)
}

func (rt *Runtime) loadServices(ctx context.Context) {
	units, errs := rt.catalog.Discover(KindService)
	rt.failDiscovery(ctx, KindService, errs)

	for _, d := range units {
		rt.loadService(ctx, d)
	}
}

func (rt *Runtime) loadService(ctx context.Context, d Discovered) {
	if err := rt.lifecycle.Track(ctx, d.Kind, d.Name); err != nil {
		rt.logger.Error("Cannot track unit", "kind", d.Kind.String(), "unit", d.Name, "error", err)
		return
	}
	if aware, ok := d.Unit.(LoggerAware); ok {
		aware.SetLogger(UnitLogger(rt.logger, d.Kind, d.Name))
	}

	options, err := rt.resolver.Apply(d.Kind, d.Name, d.Unit)
	if err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConfiguration, err)
		return
	}
	if err := rt.lifecycle.Configured(ctx, d.Kind, d.Name, options); err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConfiguration, err)
		return
	}

	if initializer, ok := d.Unit.(Initializer); ok {
		if err := guard(func() error { return initializer.Init(ctx) }); err != nil {
			rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
			return
		}
	}

	svc := d.Unit.(Service)
	if err := rt.registry.Insert(d.Name, svc); err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
		return
	}
	if err := rt.lifecycle.Transition(ctx, d.Kind, d.Name, StateRunning); err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
		return
	}

	rt.mu.Lock()
	rt.services[d.Name] = svc
	rt.mu.Unlock()

	rt.logger.Info("Service running", "kind", d.Kind.String(), "unit", d.Name)
}

func (rt *Runtime) loadModules(ctx context.Context) {
	units, errs := rt.catalog.Discover(KindModule)
	rt.failDiscovery(ctx, KindModule, errs)

	var g errgroup.Group
	if rt.concurrency > 0 {
		g.SetLimit(rt.concurrency)
	}
	for _, d := range units {
		g.Go(func() error {
			rt.loadModule(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (rt *Runtime) loadModule(ctx context.Context, d Discovered) {
	logger := UnitLogger(rt.logger, d.Kind, d.Name)
	mod := d.Unit.(Module)

	if err := rt.lifecycle.Track(ctx, d.Kind, d.Name); err != nil {
		logger.Error("Cannot track unit", "error", err)
		return
	}
	if aware, ok := d.Unit.(LoggerAware); ok {
		aware.SetLogger(logger)
	}

	options, err := rt.resolver.Apply(d.Kind, d.Name, d.Unit)
	if err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConfiguration, err)
		return
	}
	if err := rt.lifecycle.Configured(ctx, d.Kind, d.Name, options); err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConfiguration, err)
		return
	}

	if err := guard(func() error { return mod.Connect(ctx, rt.client) }); err != nil {
		// Every Connect failure is a connection failure, whatever its cause.
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConnection,
			&UnitError{Kind: d.Kind, Unit: d.Name, Phase: ErrConnection, Err: err})
		return
	}
	if err := rt.lifecycle.Transition(ctx, d.Kind, d.Name, StateConnected); err != nil {
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrConnection, err)
		return
	}

	if dep, ok := d.Unit.(ServiceDependent); ok {
		for _, name := range dep.RequiresServices() {
			if _, err := rt.registry.Get(name); err != nil {
				rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, fmt.Errorf("required service '%s': %w", name, err))
				return
			}
		}
	}

	mc := newModuleContext(d.Name, rt.sched, rt.registry, logger)
	if err := guard(func() error { return mod.Start(ctx, mc) }); err != nil {
		if removed := rt.sched.RemoveOwner(d.Name); removed > 0 {
			logger.Debug("Removed schedule entries of failed module", "count", removed)
		}
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
		return
	}
	if err := rt.lifecycle.Transition(ctx, d.Kind, d.Name, StateStarted); err != nil {
		rt.sched.RemoveOwner(d.Name)
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
		return
	}
	if err := rt.lifecycle.Transition(ctx, d.Kind, d.Name, StateRunning); err != nil {
		rt.sched.RemoveOwner(d.Name)
		rt.lifecycle.Fail(ctx, d.Kind, d.Name, ErrStart, err)
		return
	}

	rt.mu.Lock()
	rt.modules[d.Name] = mod
	rt.mu.Unlock()

	logger.Info("Module running", "entries", len(mc.Entries()))
}

func (rt *Runtime) failDiscovery(ctx context.Context, kind Kind, errs []error) {
	for _, err := range errs {
		var unitErr *UnitError
		if errors.As(err, &unitErr) {
			rt.lifecycle.Fail(ctx, kind, unitErr.Unit, ErrDiscovery, err)
			continue
		}
		rt.logger.Error("Unit discovery failed", "kind", kind.String(), "error", err)
	}
}

// guard turns a panic in unit code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
