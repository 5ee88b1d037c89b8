// Package localdir provides a file service over a local directory tree.
//
// Listings are cached per directory and invalidated by filesystem
// notifications, so a folder polled on every scheduled tick is only read
// again after it changed. The service registers itself as "localdir" and
// reads MASTOBOT_SERVICE_LOCALDIR_ROOT and
// MASTOBOT_SERVICE_LOCALDIR_EXTENSIONS (comma separated, e.g. ".png,.jpg").
package localdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/GoCodeAlone/mastobot"
)

// ServiceName is the registry name of the service.
const ServiceName = "localdir"

// ErrOutsideRoot is returned for paths escaping the root directory.
var ErrOutsideRoot = errors.New("localdir: path escapes root")

func init() {
	mastobot.RegisterService(ServiceName, func() (mastobot.Unit, error) {
		return New(), nil
	})
}

// Config holds the service options.
type Config struct {
	Root       string   `option:"root"`
	Extensions []string `option:"extensions"`
}

// Service lists and opens files below Config.Root.
type Service struct {
	config Config
	logger mastobot.Logger

	mu      sync.RWMutex
	cache   map[string][]string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates an unconfigured service.
func New() *Service {
	return &Service{
		cache: make(map[string][]string),
	}
}

// Name implements mastobot.Unit.
func (s *Service) Name() string { return ServiceName }

// Config implements mastobot.Configurable.
func (s *Service) Config() any { return &s.config }

// SetLogger implements mastobot.LoggerAware.
func (s *Service) SetLogger(logger mastobot.Logger) { s.logger = logger }

// Init checks the root directory and starts watching for changes.
func (s *Service) Init(context.Context) error {
	if s.config.Root == "" {
		return fmt.Errorf("%w: root is required", mastobot.ErrConfiguration)
	}
	root, err := filepath.Abs(s.config.Root)
	if err != nil {
		return fmt.Errorf("%w: %w", mastobot.ErrConfiguration, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", mastobot.ErrConfiguration, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", mastobot.ErrConfiguration, root)
	}
	s.config.Root = root

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.watch(watcher, s.done)
	return nil
}

// Stop stops watching.
func (s *Service) Stop(context.Context) error {
	s.mu.Lock()
	watcher := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-s.done
	return err
}

func (s *Service) watch(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) {
				continue
			}
			s.invalidate(filepath.Dir(event.Name))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Warn("Watcher error", "error", err)
			}
		}
	}
}

func (s *Service) invalidate(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[dir]; ok {
		delete(s.cache, dir)
		if s.logger != nil {
			s.logger.Debug("Listing invalidated", "dir", dir)
		}
	}
}

// resolve maps a service path to a local path below the root.
func (s *Service) resolve(p string) (string, error) {
	local := filepath.Join(s.config.Root, filepath.FromSlash(path.Clean("/"+p)))
	rel, err := filepath.Rel(s.config.Root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return local, nil
}

// List returns the regular files directly below dir as slash separated
// paths relative to the root.
func (s *Service) List(_ context.Context, dir string) ([]string, error) {
	local, err := s.resolve(dir)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached, ok := s.cache[local]
	s.mu.RUnlock()
	if ok {
		return append([]string(nil), cached...), nil
	}

	dirEntries, err := os.ReadDir(local)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	prefix := path.Clean("/" + dir)
	var entries []string
	for _, e := range dirEntries {
		if !e.Type().IsRegular() || !s.allowed(e.Name()) {
			continue
		}
		entries = append(entries, path.Join(prefix, e.Name()))
	}
	sort.Strings(entries)

	s.mu.Lock()
	if s.watcher != nil {
		if err := s.watcher.Add(local); err == nil {
			s.cache[local] = entries
		} else if s.logger != nil {
			s.logger.Debug("Listing not cached", "dir", local, "error", err)
		}
	}
	s.mu.Unlock()

	return append([]string(nil), entries...), nil
}

func (s *Service) allowed(name string) bool {
	if len(s.config.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range s.config.Extensions {
		allowed = strings.ToLower(allowed)
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if allowed == ext {
			return true
		}
	}
	return false
}

// Fetch opens a file. The returned handle only needs closing.
func (s *Service) Fetch(_ context.Context, id string) (mastobot.LocalFile, error) {
	local, err := s.resolve(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return &file{File: f, name: path.Base(id)}, nil
}

type file struct {
	*os.File
	name string
}

func (f *file) Name() string { return f.name }
