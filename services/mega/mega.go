// Package mega provides a file service backed by the megatools command
// line client (megals and megaget).
//
// The service registers itself under the name "mega". Its options are
// read from MASTOBOT_SERVICE_MEGA_<OPTION>:
//
//	username      account e-mail (required)
//	password      account password (required)
//	root          remote root the listed paths are relative to, default /Root
//	list_command  listing binary, default megals
//	get_command   download binary, default megaget
//	temp_dir      where downloads are staged, default os.TempDir()
//	timeout       per command timeout, default 2m
package mega

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/GoCodeAlone/mastobot"
)

// ServiceName is the registry name of the service.
const ServiceName = "mega"

// ErrCommandFailed is returned when a megatools command exits non-zero.
var ErrCommandFailed = errors.New("mega: command failed")

func init() {
	mastobot.RegisterService(ServiceName, func() (mastobot.Unit, error) {
		return New(), nil
	})
}

// Config holds the service options.
type Config struct {
	Username    string        `option:"username" validate:"required"`
	Password    string        `option:"password" validate:"required"`
	Root        string        `option:"root" validate:"required,startswith=/"`
	ListCommand string        `option:"list_command" validate:"required"`
	GetCommand  string        `option:"get_command" validate:"required"`
	TempDir     string        `option:"temp_dir"`
	Timeout     time.Duration `option:"timeout" validate:"gt=0"`
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	LookPath(file string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, msg)
	}
	return stdout.Bytes(), nil
}

func (execRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Service lists and downloads files from a MEGA account. Concurrent
// listings of the same folder share one megals invocation.
type Service struct {
	config Config
	runner Runner
	group  singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.runner = r
		}
	}
}

// New creates a service. Defaults for options left unset are applied by Init.
func New(opts ...Option) *Service {
	s := &Service{runner: execRunner{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements mastobot.Unit.
func (s *Service) Name() string { return ServiceName }

// Config implements mastobot.Configurable.
func (s *Service) Config() any { return &s.config }

var validate = validator.New()

// Init checks the options and that the megatools binaries are installed.
func (s *Service) Init(context.Context) error {
	s.applyDefaults()
	if err := validate.Struct(&s.config); err != nil {
		return fmt.Errorf("%w: %w", mastobot.ErrConfiguration, err)
	}
	for _, bin := range []string{s.config.ListCommand, s.config.GetCommand} {
		if _, err := s.runner.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found: %w", mastobot.ErrConfiguration, bin, err)
		}
	}
	return nil
}

func (s *Service) applyDefaults() {
	if s.config.Root == "" {
		s.config.Root = "/Root"
	}
	if s.config.ListCommand == "" {
		s.config.ListCommand = "megals"
	}
	if s.config.GetCommand == "" {
		s.config.GetCommand = "megaget"
	}
	if s.config.Timeout == 0 {
		s.config.Timeout = 2 * time.Minute
	}
}

func (s *Service) credentials() []string {
	return []string{"-u", s.config.Username, "-p", s.config.Password}
}

// remote maps a service path to the remote path below the root.
func (s *Service) remote(p string) string {
	return path.Join(s.config.Root, strings.TrimPrefix(p, "/"))
}

// List returns the entries below dir, as paths relative to the root.
func (s *Service) List(ctx context.Context, dir string) ([]string, error) {
	remoteDir := s.remote(dir)

	v, err, _ := s.group.Do(remoteDir, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Timeout)
		defer cancel()

		args := append(s.credentials(), remoteDir)
		out, err := s.runner.Run(ctx, s.config.ListCommand, args...)
		if err != nil {
			return nil, err
		}
		return s.parseListing(out, remoteDir), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return append([]string(nil), v.([]string)...), nil
}

func (s *Service) parseListing(out []byte, remoteDir string) []string {
	var entries []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || path.Clean(line) == remoteDir {
			continue
		}
		entries = append(entries, "/"+strings.TrimPrefix(strings.TrimPrefix(line, s.config.Root), "/"))
	}
	return entries
}

// Fetch downloads id into a private temporary directory. Closing the
// returned file removes the download.
func (s *Service) Fetch(ctx context.Context, id string) (mastobot.LocalFile, error) {
	dir, err := os.MkdirTemp(s.config.TempDir, "mastobot-mega-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	local := filepath.Join(dir, path.Base(id))
	f, err := s.download(ctx, id, local)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &tempFile{File: f, name: path.Base(id), dir: dir}, nil
}

func (s *Service) download(ctx context.Context, id, local string) (*os.File, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	args := append(s.credentials(), "--path", local, s.remote(id))
	if _, err := s.runner.Run(ctx, s.config.GetCommand, args...); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return f, nil
}

// tempFile removes its staging directory on Close.
type tempFile struct {
	*os.File
	name string
	dir  string
}

func (f *tempFile) Name() string { return f.name }

func (f *tempFile) Close() error {
	closeErr := f.File.Close()
	if err := os.RemoveAll(f.dir); err != nil {
		return errors.Join(closeErr, err)
	}
	return closeErr
}
