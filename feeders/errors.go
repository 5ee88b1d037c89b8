package feeders

import (
	"errors"
	"fmt"
)

// DotEnv feeder errors
var (
	ErrDotEnvInvalidLineFormat = errors.New("invalid .env line format")
)

// Units file errors
var (
	ErrUnitsFileUnsupportedFormat = errors.New("unsupported units file format")
	ErrUnitsFileInvalidSection    = errors.New("invalid units file section")
	ErrUnitsFileUnsupportedValue  = errors.New("unsupported units file value")
)

func wrapSectionError(path string, got any) error {
	return fmt.Errorf("%w %s, got %T", ErrUnitsFileInvalidSection, path, got)
}

func wrapValueError(path string, got any) error {
	return fmt.Errorf("%w %s, got %T", ErrUnitsFileUnsupportedValue, path, got)
}
