package mastobot

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/mastobot/scheduler"
)

// Failure classes. Every unit failure is wrapped in a UnitError whose class
// matches exactly one of these with errors.Is.
var (
	// ErrConfiguration is returned when a required option is missing or invalid.
	ErrConfiguration = errors.New("configuration error")
	// ErrConnection is returned when the posting backend rejects authentication or verification.
	ErrConnection = errors.New("connection error")
	// ErrStart is returned when a module's start-time setup fails.
	ErrStart = errors.New("start error")
	// ErrInvocation is returned when a scheduled callback fails.
	ErrInvocation = scheduler.ErrInvocation
	// ErrDiscovery is returned when a unit definition cannot be instantiated.
	ErrDiscovery = errors.New("discovery error")
)

// Registry and catalog errors
var (
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrServiceWrongType         = errors.New("service doesn't satisfy required type")
	ErrRegistrySealed           = errors.New("capability registry is sealed")
	ErrDefinitionExists         = errors.New("unit definition already registered")
	ErrDefinitionInvalid        = errors.New("unit definition is invalid")
	ErrCapabilityMismatch       = errors.New("unit does not satisfy capability contract")
)

// Lifecycle errors
var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrUnitNotTracked    = errors.New("unit is not tracked by the lifecycle manager")
	ErrNotConnected      = errors.New("module is not connected")
	ErrConfigNotPointer  = errors.New("config must be a non-nil pointer to a struct")
	ErrRuntimeLoaded     = errors.New("runtime already loaded")
)

// UnitError describes the failure of a single unit. It never escapes the
// unit's own boundary: the runtime logs it and continues with the next unit.
type UnitError struct {
	Kind  Kind
	Unit  string
	Phase error
	Err   error
}

// Error implements the error interface.
func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %q: %v: %v", e.Kind, e.Unit, e.Phase, e.Err)
}

// Unwrap exposes both the failure class and the underlying cause.
func (e *UnitError) Unwrap() []error {
	return []error{e.Phase, e.Err}
}

// classify keeps an error's own failure class when it already carries one,
// otherwise it falls back to the class of the phase that failed.
func classify(err, fallback error) error {
	for _, class := range []error{ErrConfiguration, ErrConnection, ErrStart, ErrInvocation, ErrDiscovery} {
		if errors.Is(err, class) {
			return class
		}
	}
	return fallback
}
