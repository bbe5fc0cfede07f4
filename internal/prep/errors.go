package prep

import (
	"errors"
	"fmt"
)

// ErrConfig marks invalid user configuration such as a calibration shape that
// does not match the model.
var ErrConfig = errors.New("invalid configuration")

// ConfigError describes a calibration-shape problem. Input is empty when the
// problem is not tied to one model input.
type ConfigError struct {
	Input  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("calibration shapes: %s", e.Reason)
	}
	return fmt.Sprintf("calibration shapes: input %q: %s", e.Input, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

func configErrorf(input, format string, args ...any) error {
	return &ConfigError{Input: input, Reason: fmt.Sprintf(format, args...)}
}
