package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"

	"github.com/GoCodeAlone/mastobot"
	"github.com/GoCodeAlone/mastobot/feeders"
)

const defaultDotEnv = ".env"

// ErrInvalidSettings is returned when bootstrap settings fail to decode or
// validate.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings configure the process itself, as opposed to the units it runs.
// They come from command line flags and the settings section of the units
// file; flags win.
type Settings struct {
	Prefix            string `config:"prefix" validate:"required"`
	LogLevel          string `config:"log_level" validate:"oneof=debug info warn error"`
	LogFormat         string `config:"log_format" validate:"oneof=text json"`
	UnitsFile         string `config:"units_file"`
	DotEnv            string `config:"dotenv"`
	Timezone          string `config:"timezone" validate:"required"`
	MetricsAddr       string `config:"metrics_addr" validate:"omitempty,hostname_port"`
	ModuleConcurrency int    `config:"module_concurrency" validate:"gte=0"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() Settings {
	return Settings{
		Prefix:    mastobot.DefaultPrefix,
		LogLevel:  "info",
		LogFormat: "text",
		DotEnv:    defaultDotEnv,
		Timezone:  "Local",
	}
}

var settingsValidator = validator.New()

// Decode merges values into s. Keys absent from values leave fields untouched.
func (s *Settings) Decode(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           s,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		TagName:          "config",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(values); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Validate checks every field against its rules.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Location resolves Timezone.
func (s Settings) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// NewLogger builds the process logger.
func (s Settings) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if s.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func addSettingsFlags(flags *pflag.FlagSet) {
	d := DefaultSettings()
	flags.String("prefix", d.Prefix, "environment variable prefix for unit options")
	flags.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	flags.String("log-format", d.LogFormat, "log format: text or json")
	flags.String("units-file", d.UnitsFile, "YAML or TOML file with unit options")
	flags.String("dotenv", d.DotEnv, ".env file with unit options, empty to disable")
	flags.String("timezone", d.Timezone, "IANA time zone schedules are evaluated in")
	flags.String("metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address")
	flags.Int("module-concurrency", d.ModuleConcurrency, "modules loaded in parallel, 0 for no limit")
}

// changedSettings returns the flags set on the command line, keyed by
// setting name.
func changedSettings(flags *pflag.FlagSet) map[string]any {
	values := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		values[strings.ReplaceAll(f.Name, "-", "_")] = f.Value.String()
	})
	return values
}

// bootstrap is everything resolved before the runtime is built.
type bootstrap struct {
	settings Settings
	env      *feeders.EnvCatalog
	location *time.Location
}

// loadBootstrap resolves settings and the option catalog. Precedence for
// unit options is OS environment, then .env file, then units file.
func loadBootstrap(flags *pflag.FlagSet) (*bootstrap, error) {
	fromFlags := changedSettings(flags)

	s := DefaultSettings()
	if err := s.Decode(fromFlags); err != nil {
		return nil, err
	}

	var units *feeders.UnitsFile
	if s.UnitsFile != "" {
		f, err := feeders.LoadUnitsFile(s.UnitsFile, s.Prefix)
		if err != nil {
			return nil, err
		}
		prefix := s.Prefix
		if err := s.Decode(f.Settings); err != nil {
			return nil, fmt.Errorf("units file settings: %w", err)
		}
		if err := s.Decode(fromFlags); err != nil {
			return nil, err
		}
		if s.Prefix != prefix {
			if f, err = feeders.LoadUnitsFile(s.UnitsFile, s.Prefix); err != nil {
				return nil, err
			}
		}
		units = f
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	location, _ := s.Location()

	env := feeders.NewEnvCatalog()
	if s.DotEnv != "" {
		if _, err := env.LoadFromDotEnv(s.DotEnv); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || s.DotEnv != defaultDotEnv {
				return nil, err
			}
		}
	}
	if units != nil {
		env.Merge(units.Values, feeders.SourceFile+":"+s.UnitsFile)
	}

	return &bootstrap{settings: s, env: env, location: location}, nil
}
