package trt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrParse      = errors.New("trt: network parse failed")
	ErrPluginLoad = errors.New("trt: plugin load failed")
	ErrReport     = errors.New("trt: malformed layer report")
)

// ParseError is returned when the parser rejects the model. Diagnostics holds
// every line the parser reported, in order.
type ParseError struct {
	Path        string
	Diagnostics []string
	Err         error
}

func (e *ParseError) Error() string {
	msg := "parse " + e.Path
	if len(e.Diagnostics) > 0 {
		msg += ": " + strings.Join(e.Diagnostics, "\n")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// LoadError is returned when a plugin library cannot be loaded.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("load plugin %s: %s: %v", e.Path, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("load plugin %s: %v", e.Path, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("load plugin %s: %s", e.Path, e.Reason)
	default:
		return "load plugin " + e.Path
	}
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPluginLoad}
	}
	return []error{ErrPluginLoad, e.Err}
}
