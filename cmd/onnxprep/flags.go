package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/onnxprep/internal/logger"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	parserCommand string
	layerReport   string

	// cfg is loaded once by setup.
	cfg Config
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func parserFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "trt-parser",
			Usage:       "TensorRT layer report helper (default " + envParser + " or trt-layer-report)",
			Destination: &parserCommand,
		},
		&cli.StringFlag{
			Name:        "layer-report",
			Usage:       "read a precomputed layer report instead of running the parser",
			Destination: &layerReport,
		},
	}
}

// setup loads the config file and installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	loaded, err := readConfig(configPath())
	if err != nil {
		return ctx, cli.Exit("error: "+err.Error(), 2)
	}
	cfg = loaded
	applyLogConfig(cmd, cfg)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.NewFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit("error: "+err.Error(), 2)
	}
	return logger.WithContext(ctx, log), nil
}
