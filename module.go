// Package mastobot provides a long-running automation runtime that posts
// content on a schedule through pluggable units.
//
// Two kinds of unit exist. Services are shared backends (for example a
// remote file store) that live in the CapabilityRegistry. Modules own an
// authenticated posting session, consume services and register cron
// entries with the scheduler. The Runtime discovers every registered unit,
// resolves its configuration from the environment, drives it through its
// lifecycle and isolates failures per unit, so one misconfigured module
// never prevents the others from running.
//
// Basic usage:
//
//	func init() {
//		mastobot.RegisterModule("poster", func() (mastobot.Unit, error) { return NewPoster(), nil })
//	}
//
//	rt := mastobot.NewRuntime(mastobot.WithLogger(logger), mastobot.WithPostingClient(client))
//	if err := rt.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package mastobot

import (
	"context"

	"github.com/GoCodeAlone/mastobot/posting"
)

// Kind distinguishes services from modules.
type Kind int

const (
	KindService Kind = iota
	KindModule
)

// String returns the lower-case kind name used in logs and config keys.
func (k Kind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Unit is the common contract of services and modules.
type Unit interface {
	// Name returns the stable identifier of the unit. It is lower-cased by
	// the runtime and must be unique among units of the same kind.
	Name() string
}

// Service is a unit providing a shared capability to modules. Services are
// singletons owned by the CapabilityRegistry and may be called from several
// modules and scheduled invocations at once, so implementations must be
// safe for concurrent use.
type Service interface {
	Unit
}

// Module is a unit that owns a posting session and performs scheduled
// outbound actions.
type Module interface {
	Unit

	// Connect authenticates against the posting backend. A module whose
	// credentials are missing or rejected fails here and is never started.
	Connect(ctx context.Context, client posting.Client) error

	// Start performs start-time setup. It may register schedule entries
	// through the ModuleContext and may perform an initial action.
	Start(ctx context.Context, mc *ModuleContext) error
}

// Configurable is implemented by units that expose typed configuration.
// Config must return a pointer to a struct whose fields carry `option`
// tags. Values set before the runtime resolves configuration are treated
// as explicit defaults and are never overwritten.
type Configurable interface {
	Config() any
}

// ServiceDependent is implemented by modules that need services from the
// registry. It is consulted after configuration has been resolved, so the
// returned names may come from config options.
type ServiceDependent interface {
	RequiresServices() []string
}

// LoggerAware is implemented by units that want a logger tagged with
// their kind and name. SetLogger is called right after instantiation.
type LoggerAware interface {
	SetLogger(logger Logger)
}

// Initializer is implemented by services that need to validate their
// configuration or acquire resources before entering the registry. A
// failing Init keeps the service out of the registry.
type Initializer interface {
	Init(ctx context.Context) error
}

// Stopper is implemented by units holding resources that should be
// released when the runtime shuts down.
type Stopper interface {
	Stop(ctx context.Context) error
}
