package trt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Parser parses a serialized ONNX model with the given plugin libraries loaded
// and returns the layers of the resulting network.
type Parser interface {
	Parse(ctx context.Context, path string, plugins []string) ([]Layer, error)
}

// ExecParser runs an external helper that prints a layer report on stdout:
//
//	<Command> [Args...] --onnx <path> [--plugin <lib>]... --json
type ExecParser struct {
	Command string
	Args    []string
}

// NewExecParser returns a parser for command; an empty command means DefaultCommand.
func NewExecParser(command string, args ...string) *ExecParser {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	return &ExecParser{Command: command, Args: args}
}

func (p *ExecParser) Parse(ctx context.Context, path string, plugins []string) ([]Layer, error) {
	if err := Preflight(plugins); err != nil {
		return nil, err
	}

	args := append([]string(nil), p.Args...)
	args = append(args, "--onnx", path)
	for _, lib := range plugins {
		args = append(args, "--plugin", lib)
	}
	args = append(args, "--json")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	// A helper that fails may still have written a report with diagnostics.
	if stdout.Len() > 0 {
		report, err := DecodeReport(stdout.Bytes())
		if err == nil {
			if err := report.check(path); err != nil {
				return nil, err
			}
			if runErr == nil {
				return report.Layers, nil
			}
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			return nil, &ParseError{Path: path, Diagnostics: diagnosticLines(stderr.String()), Err: runErr}
		}
		return nil, fmt.Errorf("run %s: %w", p.Command, runErr)
	}
	return nil, &ParseError{Path: path, Diagnostics: diagnosticLines(stderr.String()), Err: ErrReport}
}

// FileParser serves a layer report produced ahead of time, for machines where
// the parser runs elsewhere. The model path is only used in error messages.
type FileParser struct {
	Path string
}

func (p FileParser) Parse(_ context.Context, path string, plugins []string) ([]Layer, error) {
	if err := Preflight(plugins); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("read layer report: %w", err)
	}
	report, err := DecodeReport(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if err := report.check(path); err != nil {
		return nil, err
	}
	return report.Layers, nil
}

func diagnosticLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
