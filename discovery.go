package mastobot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds one instance of a unit.
type Constructor func() (Unit, error)

// Definition is a registered unit type.
type Definition struct {
	Kind        Kind
	Name        string
	Description string
	New         Constructor
}

// Discovered is a unit instance produced from a Definition.
type Discovered struct {
	Kind Kind
	Name string
	Unit Unit
}

// Catalog holds unit definitions. Services and modules live in separate
// namespaces, so a service and a module may share a name.
type Catalog struct {
	mu          sync.RWMutex
	definitions map[Kind]map[string]Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		definitions: make(map[Kind]map[string]Definition),
	}
}

// DefaultCatalog is the catalog units register themselves into from init.
var DefaultCatalog = NewCatalog()

// RegisterService adds a service definition to DefaultCatalog. It panics
// if the name is empty or already taken, like other init-time registries.
func RegisterService(name string, fn Constructor) {
	if err := DefaultCatalog.Register(Definition{Kind: KindService, Name: name, New: fn}); err != nil {
		panic(err)
	}
}

// RegisterModule adds a module definition to DefaultCatalog. It panics
// if the name is empty or already taken.
func RegisterModule(name string, fn Constructor) {
	if err := DefaultCatalog.Register(Definition{Kind: KindModule, Name: name, New: fn}); err != nil {
		panic(err)
	}
}

// Register adds a definition. Names are lower-cased and must be unique
// per kind.
func (c *Catalog) Register(def Definition) error {
	def.Name = strings.ToLower(strings.TrimSpace(def.Name))
	if def.Name == "" {
		return fmt.Errorf("%w: empty name", ErrDefinitionInvalid)
	}
	if def.New == nil {
		return fmt.Errorf("%w: %s %q has no constructor", ErrDefinitionInvalid, def.Kind, def.Name)
	}
	if def.Kind != KindService && def.Kind != KindModule {
		return fmt.Errorf("%w: %q has unknown kind", ErrDefinitionInvalid, def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	defs, ok := c.definitions[def.Kind]
	if !ok {
		defs = make(map[string]Definition)
		c.definitions[def.Kind] = defs
	}
	if _, exists := defs[def.Name]; exists {
		return fmt.Errorf("%w: %s %q", ErrDefinitionExists, def.Kind, def.Name)
	}
	defs[def.Name] = def
	return nil
}

// Definitions returns the definitions of one kind ordered by name.
func (c *Catalog) Definitions(kind Kind) []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Definition, 0, len(c.definitions[kind]))
	for _, def := range c.definitions[kind] {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of definitions across both kinds.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.definitions[KindService]) + len(c.definitions[KindModule])
}

// Discover instantiates exactly one unit per definition of the given kind,
// ordered by name. A definition whose constructor fails, panics or yields
// a value that does not satisfy the kind's contract produces a UnitError
// classed ErrDiscovery; the remaining definitions are still instantiated.
func (c *Catalog) Discover(kind Kind) ([]Discovered, []error) {
	var (
		units []Discovered
		errs  []error
	)

	for _, def := range c.Definitions(kind) {
		unit, err := instantiate(def)
		if err != nil {
			errs = append(errs, &UnitError{Kind: kind, Unit: def.Name, Phase: ErrDiscovery, Err: err})
			continue
		}
		units = append(units, Discovered{Kind: kind, Name: def.Name, Unit: unit})
	}
	return units, errs
}

func instantiate(def Definition) (unit Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			unit, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()

	unit, err = def.New()
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, fmt.Errorf("%w: constructor returned nil", ErrCapabilityMismatch)
	}

	switch def.Kind {
	case KindModule:
		if _, ok := unit.(Module); !ok {
			return nil, fmt.Errorf("%w: %T is not a Module", ErrCapabilityMismatch, unit)
		}
	case KindService:
		if _, ok := unit.(Service); !ok {
			return nil, fmt.Errorf("%w: %T is not a Service", ErrCapabilityMismatch, unit)
		}
	}
	return unit, nil
}
