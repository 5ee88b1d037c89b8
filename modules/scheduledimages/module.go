// Package scheduledimages posts a random image from a file service on a
// schedule.
//
// Options, read from MASTOBOT_MODULE_SCHEDULEDIMAGES_<OPTION>:
//
//	instance_url       Mastodon instance (required)
//	access_token       application token (required)
//	schedule           cron specification (required)
//	file_service_name  registry name of the file service (required)
//	image_folder       folder listed on every tick, default /
//	image_memory_size  how many recent images are avoided, default 10
//	max_attempts       tries per tick before waiting for the next one, default 3
//	status_text        text posted along with the image
package scheduledimages

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/GoCodeAlone/mastobot"
	"github.com/GoCodeAlone/mastobot/internal/pick"
)

// ModuleName is the name the module registers under.
const ModuleName = "scheduledimages"

const (
	defaultImageFolder     = "/"
	defaultImageMemorySize = 10
	defaultMaxAttempts     = 3
)

func init() {
	mastobot.RegisterModule(ModuleName, func() (mastobot.Unit, error) {
		return New(), nil
	})
}

// Config holds the module options.
type Config struct {
	mastobot.Credentials
	Schedule        string `option:"schedule" validate:"required"`
	FileServiceName string `option:"file_service_name" validate:"required"`
	ImageFolder     string `option:"image_folder"`
	ImageMemorySize int    `option:"image_memory_size" validate:"gte=0"`
	MaxAttempts     int    `option:"max_attempts" validate:"gte=0"`
	StatusText      string `option:"status_text"`
}

// Module posts scheduled images.
type Module struct {
	mastobot.BaseModule
	config Config

	files  mastobot.FileService
	picker *pick.Picker
	logger mastobot.Logger
}

// New creates the module.
func New() *Module {
	m := &Module{}
	m.BaseModule = mastobot.NewBaseModule(ModuleName, &m.config.Credentials)
	return m
}

// Config implements mastobot.Configurable.
func (m *Module) Config() any { return &m.config }

// RequiresServices implements mastobot.ServiceDependent.
func (m *Module) RequiresServices() []string {
	if m.config.FileServiceName == "" {
		return nil
	}
	return []string{m.config.FileServiceName}
}

var validate = validator.New()

// Start checks the options, resolves the file service and schedules
// PostImage.
func (m *Module) Start(_ context.Context, mc *mastobot.ModuleContext) error {
	if err := validate.Struct(&m.config); err != nil {
		return fmt.Errorf("%w: %w", mastobot.ErrConfiguration, err)
	}
	if m.config.ImageFolder == "" {
		m.config.ImageFolder = defaultImageFolder
	}
	if m.config.ImageMemorySize == 0 {
		m.config.ImageMemorySize = defaultImageMemorySize
	}
	if m.config.MaxAttempts == 0 {
		m.config.MaxAttempts = defaultMaxAttempts
	}

	files, err := mc.FileService(m.config.FileServiceName)
	if err != nil {
		return err
	}
	m.files = files
	m.picker = pick.New(m.config.ImageMemorySize)
	m.logger = mc.Logger()

	_, err = mc.Schedule("postImage", m.config.Schedule, m.PostImage)
	return err
}

// PostImage posts one random image. A failed attempt is logged and
// retried with another pick up to max_attempts times; after that the
// error is returned and the next tick tries again. Images that failed to
// post are not remembered as recent.
func (m *Module) PostImage(ctx context.Context) error {
	var failed []string
	defer func() {
		for _, image := range failed {
			m.picker.Forget(image)
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		image, err := m.postRandomImage(ctx)
		if err == nil {
			m.logger.Info("Posted an image", "image", image)
			return nil
		}
		if image != "" {
			failed = append(failed, image)
		}
		lastErr = err
		m.logger.Error("Error when posting an image", "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", m.config.MaxAttempts, lastErr)
}

func (m *Module) postRandomImage(ctx context.Context) (string, error) {
	images, err := m.files.List(ctx, m.config.ImageFolder)
	if err != nil {
		return "", err
	}
	image, err := m.picker.Pick(images)
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.config.ImageFolder, err)
	}

	f, err := m.files.Fetch(ctx, image)
	if err != nil {
		return image, err
	}
	defer f.Close()

	if _, err := m.PostMedia(ctx, f, m.config.StatusText); err != nil {
		return image, err
	}
	return image, nil
}
