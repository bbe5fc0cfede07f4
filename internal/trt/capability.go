// Package trt is the boundary to the TensorRT network parser.
//
// TensorRT has no Go bindings, so parsing is delegated to a helper process (or a
// precomputed layer report) that emits the parsed network as JSON. This package
// decides whether that capability is usable, validates plugin libraries, runs the
// helper and decodes its report.
package trt

import (
	"fmt"
	"os/exec"
	"strings"
)

// DefaultCommand is the parser helper looked up on PATH when none is configured.
const DefaultCommand = "trt-layer-report"

// Capability says whether custom-operator discovery can run in this process.
type Capability int

const (
	Available Capability = iota
	Unavailable
	PlatformExcluded
)

func (c Capability) String() string {
	switch c {
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	case PlatformExcluded:
		return "platform_excluded"
	default:
		return "unknown"
	}
}

// MarshalText lets the capability appear as a string in JSON output.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(text []byte) error {
	for _, v := range []Capability{Available, Unavailable, PlatformExcluded} {
		if v.String() == string(text) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown capability %q", text)
}

// Excluded reports whether discovery is disabled on this platform, whatever
// the source of the layer report.
func Excluded() bool { return platformExcluded }

// Detect computes the capability once at startup. command is the parser
// helper; an empty command falls back to DefaultCommand.
func Detect(command string) Capability {
	if platformExcluded {
		return PlatformExcluded
	}
	command = strings.TrimSpace(command)
	if command == "" {
		command = DefaultCommand
	}
	if _, err := exec.LookPath(command); err != nil {
		return Unavailable
	}
	return Available
}
