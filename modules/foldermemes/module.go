// Package foldermemes posts a random meme from a MEGA folder on a schedule.
//
// The module depends on the "mega" file service. Options are read from
// MASTOBOT_MODULE_FOLDERMEMES_<OPTION>: instance_url, access_token,
// meme_folder and schedule are all required.
package foldermemes

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/GoCodeAlone/mastobot"
	"github.com/GoCodeAlone/mastobot/internal/pick"
)

const (
	// ModuleName is the name the module registers under.
	ModuleName = "foldermemes"
	// FileServiceName is the service memes are fetched from.
	FileServiceName = "mega"

	memeMemory  = 10
	maxAttempts = 3
)

func init() {
	mastobot.RegisterModule(ModuleName, func() (mastobot.Unit, error) {
		return New(), nil
	})
}

// Config holds the module options.
type Config struct {
	mastobot.Credentials
	MemeFolder string `option:"meme_folder" validate:"required"`
	Schedule   string `option:"schedule" validate:"required"`
}

// Module posts memes.
type Module struct {
	mastobot.BaseModule
	config Config

	mega   mastobot.FileService
	memes  *pick.Picker
	logger mastobot.Logger
}

// New creates the module.
func New() *Module {
	m := &Module{memes: pick.New(memeMemory)}
	m.BaseModule = mastobot.NewBaseModule(ModuleName, &m.config.Credentials)
	return m
}

// Config implements mastobot.Configurable.
func (m *Module) Config() any { return &m.config }

// RequiresServices implements mastobot.ServiceDependent.
func (m *Module) RequiresServices() []string { return []string{FileServiceName} }

var validate = validator.New()

// Start schedules PostMeme.
func (m *Module) Start(_ context.Context, mc *mastobot.ModuleContext) error {
	if err := validate.Struct(&m.config); err != nil {
		return fmt.Errorf("%w: %w", mastobot.ErrConfiguration, err)
	}

	mega, err := mc.FileService(FileServiceName)
	if err != nil {
		return err
	}
	m.mega = mega
	m.logger = mc.Logger()

	_, err = mc.Schedule("postMeme", m.config.Schedule, m.PostMeme)
	return err
}

// PostMeme posts one meme, trying another one when posting fails. Memes
// that failed to post are not remembered as recent.
func (m *Module) PostMeme(ctx context.Context) error {
	var failed []string
	defer func() {
		for _, meme := range failed {
			m.memes.Forget(meme)
		}
	}()

	var lastErr error
	for range maxAttempts {
		meme, err := m.postRandomMeme(ctx)
		if err == nil {
			m.logger.Info("Posted a meme", "meme", meme)
			return nil
		}
		if meme != "" {
			failed = append(failed, meme)
		}
		lastErr = err
		m.logger.Error("Error when posting a meme, trying again", "error", err)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (m *Module) postRandomMeme(ctx context.Context) (string, error) {
	memes, err := m.mega.List(ctx, m.config.MemeFolder)
	if err != nil {
		return "", err
	}
	meme, err := m.memes.Pick(memes)
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.config.MemeFolder, err)
	}

	f, err := m.mega.Fetch(ctx, meme)
	if err != nil {
		return meme, err
	}
	defer f.Close()

	_, err = m.PostMedia(ctx, f, "")
	return meme, err
}
