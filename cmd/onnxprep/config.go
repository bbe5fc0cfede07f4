package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/onnxprep/internal/trt"
)

const (
	envConfig = "ONNXPREP_CONFIG"
	envParser = "ONNXPREP_TRT_PARSER"
)

// Config represents the onnxprep configuration file (~/.config/onnxprep/config.yaml).
// Booleans are pointers so we can distinguish "not set" from false.
type Config struct {
	Plugins           []string `yaml:"plugins"`
	CalibrationShapes string   `yaml:"calibration_shapes"`
	ExternalData      *bool    `yaml:"external_data"`
	KeepIntermediate  *bool    `yaml:"keep_intermediate"`

	Parser ParserConfig `yaml:"parser"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

type ParserConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

func configPath() string {
	if p := strings.TrimSpace(os.Getenv(envConfig)); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "onnxprep", "config.yaml")
}

// readConfig returns a zero Config if the file doesn't exist. A file that
// exists but does not parse is an error.
func readConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyPrepareConfig applies config file defaults to prepare command variables
// when the corresponding CLI flag was not explicitly set.
func applyPrepareConfig(c *cli.Command, cfg Config, plugins, shapes *string, externalData, keep *bool) {
	if len(cfg.Plugins) > 0 && !c.IsSet("plugins") {
		*plugins = strings.Join(cfg.Plugins, ";")
	}
	if cfg.CalibrationShapes != "" && !c.IsSet("calibration-shapes") {
		*shapes = cfg.CalibrationShapes
	}
	if cfg.ExternalData != nil && !c.IsSet("external-data") {
		*externalData = *cfg.ExternalData
	}
	if cfg.KeepIntermediate != nil && !c.IsSet("keep-intermediate") {
		*keep = *cfg.KeepIntermediate
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// resolveParser picks the helper command: flag, then environment, then config,
// then trt.DefaultCommand. Config args only apply to the config command.
func resolveParser(flagValue string, cfg Config) (string, []string) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv(envParser)); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(cfg.Parser.Command); v != "" {
		return v, cfg.Parser.Args
	}
	return trt.DefaultCommand, nil
}

// platformExcluded is a seam for tests.
var platformExcluded = trt.Excluded

// newParser returns the parser and the capability to run the pipeline with. A
// precomputed layer report is available unless the platform is excluded.
func newParser(reportPath, flagValue string, cfg Config) (trt.Parser, trt.Capability, string) {
	if reportPath != "" {
		capability := trt.Available
		if platformExcluded() {
			capability = trt.PlatformExcluded
		}
		return trt.FileParser{Path: reportPath}, capability, reportPath
	}
	command, args := resolveParser(flagValue, cfg)
	return trt.NewExecParser(command, args...), trt.Detect(command), command
}
