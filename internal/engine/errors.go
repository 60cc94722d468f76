package engine

import "github.com/cockroachdb/errors"

// ErrConfigNotFound matches ConfigNotFoundError with errors.Is.
var ErrConfigNotFound = errors.New("config not found")

// ConfigNotFoundError means the init step did not persist its configuration.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return "Config file could not be found at expected location " + e.Path + ". Has the 'init' step been called?"
}

func (e *ConfigNotFoundError) Is(target error) bool {
	return target == ErrConfigNotFound
}
