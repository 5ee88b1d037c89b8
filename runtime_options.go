package mastobot

import (
	"github.com/GoCodeAlone/mastobot/posting"
	"github.com/GoCodeAlone/mastobot/scheduler"
)

// DefaultPrefix is the leading segment of unit configuration keys.
const DefaultPrefix = "MASTOBOT"

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the runtime logger. Unit loggers derive from it.
func WithLogger(logger Logger) RuntimeOption {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithCatalog sets the catalog units are discovered from. Defaults to
// DefaultCatalog.
func WithCatalog(c *Catalog) RuntimeOption {
	return func(rt *Runtime) {
		if c != nil {
			rt.catalog = c
		}
	}
}

// WithConfigSource sets the key/value source unit options are resolved
// from. Defaults to the process environment.
func WithConfigSource(source ConfigSource) RuntimeOption {
	return func(rt *Runtime) {
		if source != nil {
			rt.source = source
		}
	}
}

// WithPrefix sets the configuration key prefix.
func WithPrefix(prefix string) RuntimeOption {
	return func(rt *Runtime) {
		rt.prefix = prefix
	}
}

// WithPostingClient sets the posting backend modules connect to.
func WithPostingClient(client posting.Client) RuntimeOption {
	return func(rt *Runtime) {
		if client != nil {
			rt.client = client
		}
	}
}

// WithScheduler sets the scheduler modules register entries with.
func WithScheduler(s *scheduler.Scheduler) RuntimeOption {
	return func(rt *Runtime) {
		if s != nil {
			rt.sched = s
		}
	}
}

// WithObserver registers an observer for runtime events. With no event
// types it receives every event.
func WithObserver(observer Observer, eventTypes ...string) RuntimeOption {
	return func(rt *Runtime) {
		rt.observers = append(rt.observers, pendingObserver{observer: observer, eventTypes: eventTypes})
	}
}

// WithModuleConcurrency bounds how many modules are connected and started
// at once. Zero or less means unbounded.
func WithModuleConcurrency(n int) RuntimeOption {
	return func(rt *Runtime) {
		rt.concurrency = n
	}
}
