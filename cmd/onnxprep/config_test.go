package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/onnxprep/internal/trt"
)

const sampleConfig = `
plugins:
  - /opt/plugins/libA.so
  - /opt/plugins/libB.so
calibration_shapes: "x:8x3x224x224"
external_data: true
keep_intermediate: false
parser:
  command: /usr/local/bin/trt-report
  args: ["--workspace", "1024"]
log_level: debug
server_address: 0.0.0.0:9000
`

func TestReadConfig(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		got, err := readConfig(filepath.Join(t.TempDir(), "config.yaml"))
		if err != nil {
			t.Fatalf("readConfig returned error: %v", err)
		}
		if got.Parser.Command != "" || got.ExternalData != nil {
			t.Fatalf("got %+v want zero config", got)
		}
	})

	t.Run("parses every field", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		got, err := readConfig(path)
		if err != nil {
			t.Fatalf("readConfig returned error: %v", err)
		}
		if len(got.Plugins) != 2 || got.Plugins[1] != "/opt/plugins/libB.so" {
			t.Fatalf("unexpected plugins: %v", got.Plugins)
		}
		if got.ExternalData == nil || !*got.ExternalData {
			t.Fatalf("external_data not parsed")
		}
		if got.KeepIntermediate == nil || *got.KeepIntermediate {
			t.Fatalf("keep_intermediate not parsed")
		}
		if got.Parser.Command != "/usr/local/bin/trt-report" || len(got.Parser.Args) != 2 {
			t.Fatalf("unexpected parser config: %+v", got.Parser)
		}
		if got.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("got server address %q", got.ServerAddress)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("plugins: [unterminated\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := readConfig(path); err == nil {
			t.Fatalf("expected a parse error")
		}
	})
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv(envConfig, "/etc/onnxprep.yaml")
	if got := configPath(); got != "/etc/onnxprep.yaml" {
		t.Fatalf("got %q want /etc/onnxprep.yaml", got)
	}
}

func TestResolveParser(t *testing.T) {
	cfg := Config{Parser: ParserConfig{Command: "cfg-report", Args: []string{"--fast"}}}

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(envParser, "env-report")
		cmd, args := resolveParser("flag-report", cfg)
		if cmd != "flag-report" || args != nil {
			t.Fatalf("got %q %v", cmd, args)
		}
	})
	t.Run("env over config", func(t *testing.T) {
		t.Setenv(envParser, "env-report")
		cmd, args := resolveParser("", cfg)
		if cmd != "env-report" || args != nil {
			t.Fatalf("got %q %v", cmd, args)
		}
	})
	t.Run("config with args", func(t *testing.T) {
		t.Setenv(envParser, "")
		cmd, args := resolveParser("", cfg)
		if cmd != "cfg-report" || len(args) != 1 || args[0] != "--fast" {
			t.Fatalf("got %q %v", cmd, args)
		}
	})
	t.Run("default", func(t *testing.T) {
		t.Setenv(envParser, "")
		cmd, _ := resolveParser("", Config{})
		if cmd != trt.DefaultCommand {
			t.Fatalf("got %q want %q", cmd, trt.DefaultCommand)
		}
	})
}

func TestNewParserWithLayerReport(t *testing.T) {
	prev := platformExcluded
	platformExcluded = func() bool { return false }
	t.Cleanup(func() { platformExcluded = prev })

	parser, capability, source := newParser("layers.json", "", Config{})
	if _, ok := parser.(trt.FileParser); !ok {
		t.Fatalf("got parser %T want trt.FileParser", parser)
	}
	if capability != trt.Available || source != "layers.json" {
		t.Fatalf("got %v %q", capability, source)
	}
}

func TestNewParserLayerReportOnExcludedPlatform(t *testing.T) {
	prev := platformExcluded
	platformExcluded = func() bool { return true }
	t.Cleanup(func() { platformExcluded = prev })

	parser, capability, _ := newParser("layers.json", "", Config{})
	if _, ok := parser.(trt.FileParser); !ok {
		t.Fatalf("got parser %T want trt.FileParser", parser)
	}
	if capability != trt.PlatformExcluded {
		t.Fatalf("got capability %v want %v", capability, trt.PlatformExcluded)
	}
}

func TestApplyPrepareConfig(t *testing.T) {
	yes := true
	cfg := Config{
		Plugins:           []string{"a.so", "b.so"},
		CalibrationShapes: "x:1x3",
		ExternalData:      &yes,
		KeepIntermediate:  &yes,
	}

	var (
		plugins, shapes string
		ext, keep       bool
	)
	cmd := &cli.Command{
		Name: "prepare",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "plugins", Destination: &plugins},
			&cli.StringFlag{Name: "calibration-shapes", Destination: &shapes},
			&cli.BoolFlag{Name: "external-data", Destination: &ext},
			&cli.BoolFlag{Name: "keep-intermediate", Destination: &keep},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			applyPrepareConfig(c, cfg, &plugins, &shapes, &ext, &keep)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"prepare", "--calibration-shapes", "x:8x3"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if plugins != "a.so;b.so" {
		t.Fatalf("got plugins %q want config value", plugins)
	}
	if shapes != "x:8x3" {
		t.Fatalf("got shapes %q want flag value", shapes)
	}
	if !ext || !keep {
		t.Fatalf("got external=%v keep=%v want both from config", ext, keep)
	}
}
