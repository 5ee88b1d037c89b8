package mastobot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// TestLogger captures log entries for verification. It is safe for
// concurrent use since modules load concurrently.
type TestLogger struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

type TestLogEntry struct {
	Level   string
	Message string
	Args    []any
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (t *TestLogger) add(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TestLogEntry{Level: level, Message: msg, Args: args})
}

func (t *TestLogger) Info(msg string, args ...any)  { t.add("info", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.add("error", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.add("warn", msg, args) }
func (t *TestLogger) Debug(msg string, args ...any) { t.add("debug", msg, args) }

func (t *TestLogger) GetEntries() []TestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TestLogEntry(nil), t.entries...)
}

// Arg returns the value logged for key.
func (e TestLogEntry) Arg(key string) (any, bool) {
	for i := 0; i+1 < len(e.Args); i += 2 {
		if k, ok := e.Args[i].(string); ok && k == key {
			return e.Args[i+1], true
		}
	}
	return nil, false
}

// FindEntries returns the entries at level whose message contains message
// and which carry every given key/value pair.
func (t *TestLogger) FindEntries(level, message string, kv ...any) []TestLogEntry {
	var found []TestLogEntry
	for _, entry := range t.GetEntries() {
		if entry.Level != level || !strings.Contains(entry.Message, message) {
			continue
		}
		match := true
		for i := 0; i+1 < len(kv); i += 2 {
			v, ok := entry.Arg(kv[i].(string))
			if !ok || fmt.Sprint(v) != fmt.Sprint(kv[i+1]) {
				match = false
				break
			}
		}
		if match {
			found = append(found, entry)
		}
	}
	return found
}

// memFileService is an in-memory FileService.
type memFileService struct {
	name  string
	files map[string][]byte

	mu      sync.Mutex
	listed  []string
	fetched []string
	closed  int
	initErr error
	stopped bool
}

func newMemFileService(name string, files map[string][]byte) *memFileService {
	return &memFileService{name: name, files: files}
}

func (s *memFileService) Name() string { return s.name }

func (s *memFileService) Init(context.Context) error { return s.initErr }

func (s *memFileService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *memFileService) List(_ context.Context, dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, dir)

	var ids []string
	for id := range s.files {
		if strings.HasPrefix(id, strings.TrimSuffix(dir, "/")+"/") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memFileService) Fetch(_ context.Context, id string) (LocalFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", id)
	}
	s.fetched = append(s.fetched, id)
	return &memFile{Reader: bytes.NewReader(data), name: path.Base(id), svc: s}, nil
}

func (s *memFileService) calls() (listed, fetched []string, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listed...), append([]string(nil), s.fetched...), s.closed
}

type memFile struct {
	*bytes.Reader
	name string
	svc  *memFileService
}

func (f *memFile) Name() string { return f.name }

func (f *memFile) Close() error {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	f.svc.closed++
	return nil
}

type posterConfig struct {
	Credentials
	Schedule string `option:"schedule"`
	Storage  string `option:"storage"`
	Folder   string `option:"folder"`
	Text     string `option:"text"`
}

// posterModule lists a folder of a file service and posts the first file
// on every tick.
type posterModule struct {
	BaseModule
	config posterConfig

	startErr   error
	startPanic bool
	scheduleN  int

	mu    sync.Mutex
	posts int
}

func newPosterModule(name string) *posterModule {
	m := &posterModule{
		config: posterConfig{
			Schedule: "0 * * * *",
			Storage:  "storage",
			Folder:   "/pics",
			Text:     "posted",
		},
		scheduleN: 1,
	}
	m.BaseModule = NewBaseModule(name, &m.config.Credentials)
	return m
}

func (m *posterModule) Config() any { return &m.config }

func (m *posterModule) RequiresServices() []string { return []string{m.config.Storage} }

func (m *posterModule) Start(_ context.Context, mc *ModuleContext) error {
	files, err := mc.FileService(m.config.Storage)
	if err != nil {
		return err
	}
	for i := 0; i < m.scheduleN; i++ {
		if _, err := mc.Schedule(fmt.Sprintf("post%d", i), m.config.Schedule, func(ctx context.Context) error {
			return m.post(ctx, files, mc.Logger())
		}); err != nil {
			return err
		}
	}
	if m.startPanic {
		panic("start exploded")
	}
	return m.startErr
}

func (m *posterModule) post(ctx context.Context, files FileService, logger Logger) error {
	ids, err := files.List(ctx, m.config.Folder)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.New("nothing to post")
	}
	f, err := files.Fetch(ctx, ids[0])
	if err != nil {
		return err
	}
	defer f.Close()

	id, err := m.PostMedia(ctx, f, m.config.Text)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.posts++
	m.mu.Unlock()

	logger.Info("Posted", "post", string(id))
	return nil
}

func (m *posterModule) postCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts
}

// plainModule connects but needs nothing.
type plainModule struct {
	BaseModule
	config struct {
		Credentials
	}
	started bool
}

func newPlainModule(name string) *plainModule {
	m := &plainModule{}
	m.BaseModule = NewBaseModule(name, &m.config.Credentials)
	return m
}

func (m *plainModule) Config() any { return &m.config }

func (m *plainModule) Start(context.Context, *ModuleContext) error {
	m.started = true
	return nil
}

type mapSource map[string]string

func (m mapSource) All() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
