package trt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

const sampleReport = `{
  "layers": [
    {"name": "conv0", "type": "CONVOLUTION",
     "inputs": [{"name": "x", "shape": [8, 3, 224, 224], "dtype": "FLOAT"}],
     "outputs": [{"name": "y", "shape": [8, 16, 224, 224], "dtype": "FLOAT"}]},
    {"name": "N1", "type": "PLUGIN_V2",
     "inputs": [{"name": "y", "shape": [-1, 16], "dtype": "HALF"}],
     "outputs": [{"name": "z", "shape": [-1, 16], "dtype": "DataType.HALF"}]}
  ]
}`

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecodeReport(t *testing.T) {
	t.Parallel()
	r, err := DecodeReport([]byte(sampleReport))
	if err != nil {
		t.Fatalf("DecodeReport returned error: %v", err)
	}
	if len(r.Layers) != 2 {
		t.Fatalf("got %d layers want 2", len(r.Layers))
	}
	if r.Layers[0].IsPlugin() || !r.Layers[1].IsPlugin() {
		t.Fatalf("unexpected plugin classification")
	}
	info := r.Layers[1].Outputs[0].Info()
	want := []onnx.Dim{onnx.UnknownDim(), onnx.DimValue(16)}
	if diff := cmp.Diff(want, info.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}

	r, err = DecodeReport([]byte(`{"layers":[{"name":"p","type":"PLUGIN","outputs":[{"name":"o","shape":null,"dtype":"FLOAT"},{"name":"s","shape":[],"dtype":"FLOAT"}]}]}`))
	if err != nil {
		t.Fatalf("DecodeReport returned error: %v", err)
	}
	if shape := r.Layers[0].Outputs[0].Info().Shape; shape != nil {
		t.Fatalf("null shape: got %v want unknown rank", shape)
	}
	if shape := r.Layers[0].Outputs[1].Info().Shape; shape == nil || len(shape) != 0 {
		t.Fatalf("empty shape: got %#v want a scalar", shape)
	}

	if _, err := DecodeReport([]byte("{")); !errors.Is(err, ErrReport) {
		t.Fatalf("got %v want ErrReport", err)
	}
}

func TestDataTypeToONNX(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   DataType
		want onnx.DataType
		ok   bool
	}{
		{Float, onnx.Float, true},
		{Half, onnx.Float16, true},
		{"DataType.HALF", onnx.Float16, true},
		{BF16, onnx.BFloat16, true},
		{Int8, onnx.Int8, true},
		{Int32, onnx.Int32, true},
		{Int64, onnx.Int64, true},
		{Bool, onnx.Bool, true},
		{Uint8, onnx.Uint8, true},
		{FP8, onnx.Float8E4M3FN, true},
		{Int4, onnx.Int4, true},
		{"FP4", onnx.Undefined, false},
		{"", onnx.Undefined, false},
	}
	for _, tc := range tests {
		got, ok := tc.in.ToONNX()
		if got != tc.want || ok != tc.ok {
			t.Errorf("%q: got (%v, %v) want (%v, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSplitPluginList(t *testing.T) {
	t.Parallel()
	got := SplitPluginList(" a.so; ;b.so;")
	if diff := cmp.Diff([]string{"a.so", "b.so"}, got); diff != "" {
		t.Fatalf("plugins (-want +got):\n%s", diff)
	}
	if got := SplitPluginList(""); got != nil {
		t.Fatalf("got %v want nil", got)
	}
}

func TestPreflight(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		err := Preflight([]string{filepath.Join(dir, "nope.so")})
		var le *LoadError
		if !errors.As(err, &le) || !errors.Is(err, ErrPluginLoad) {
			t.Fatalf("got %v want *LoadError", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected the stat error to be wrapped, got %v", err)
		}
	})

	t.Run("directory", func(t *testing.T) {
		if err := Preflight([]string{dir}); !errors.Is(err, ErrPluginLoad) {
			t.Fatalf("got %v want ErrPluginLoad", err)
		}
	})

	if runtime.GOOS == "linux" {
		t.Run("not elf", func(t *testing.T) {
			path := writeFile(t, dir, "junk.so", "not a library", 0o644)
			err := Preflight([]string{path})
			if !errors.Is(err, ErrPluginLoad) {
				t.Fatalf("got %v want ErrPluginLoad", err)
			}
			if !strings.Contains(err.Error(), "not an ELF object") {
				t.Fatalf("reason missing from %q", err.Error())
			}
		})
	}

	t.Run("empty list", func(t *testing.T) {
		if err := Preflight(nil); err != nil {
			t.Fatalf("got %v want nil", err)
		}
	})
}

func TestFileParser(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	t.Run("layers", func(t *testing.T) {
		p := FileParser{Path: writeFile(t, dir, "ok.json", sampleReport, 0o644)}
		layers, err := p.Parse(context.Background(), "model.onnx", nil)
		if err != nil {
			t.Fatalf("Parse returned error: %v", err)
		}
		if len(layers) != 2 || layers[1].Name != "N1" {
			t.Fatalf("unexpected layers: %+v", layers)
		}
	})

	t.Run("diagnostics concatenated", func(t *testing.T) {
		p := FileParser{Path: writeFile(t, dir, "bad.json",
			`{"layers": [], "errors": ["In node 3: unsupported op", "Assertion failed"]}`, 0o644)}
		_, err := p.Parse(context.Background(), "model.onnx", nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("got %v want *ParseError", err)
		}
		msg := err.Error()
		if !strings.Contains(msg, "unsupported op") || !strings.Contains(msg, "Assertion failed") {
			t.Fatalf("diagnostics missing from %q", msg)
		}
	})

	t.Run("plugin errors", func(t *testing.T) {
		p := FileParser{Path: writeFile(t, dir, "plugin.json",
			`{"layers": [], "plugin_errors": [{"path": "libfoo.so", "message": "undefined symbol"}]}`, 0o644)}
		_, err := p.Parse(context.Background(), "model.onnx", nil)
		var le *LoadError
		if !errors.As(err, &le) || le.Path != "libfoo.so" {
			t.Fatalf("got %v want *LoadError for libfoo.so", err)
		}
	})
}

func TestExecParser(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("helper scripts need a POSIX shell")
	}
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")

	t.Run("report on stdout", func(t *testing.T) {
		script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\ncat <<'EOF'\n" + sampleReport + "\nEOF\n"
		p := NewExecParser(writeFile(t, dir, "ok.sh", script, 0o755), "--verbose")
		layers, err := p.Parse(context.Background(), "m.onnx", nil)
		if err != nil {
			t.Fatalf("Parse returned error: %v", err)
		}
		if len(layers) != 2 {
			t.Fatalf("got %d layers want 2", len(layers))
		}
		args, err := os.ReadFile(argsFile)
		if err != nil {
			t.Fatalf("read args: %v", err)
		}
		if got := strings.TrimSpace(string(args)); got != "--verbose --onnx m.onnx --json" {
			t.Fatalf("got args %q", got)
		}
	})

	t.Run("failure on stderr", func(t *testing.T) {
		script := "#!/bin/sh\necho 'first problem' >&2\necho 'second problem' >&2\nexit 3\n"
		p := NewExecParser(writeFile(t, dir, "fail.sh", script, 0o755))
		_, err := p.Parse(context.Background(), "m.onnx", nil)
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("got %v want *ParseError", err)
		}
		if diff := cmp.Diff([]string{"first problem", "second problem"}, pe.Diagnostics); diff != "" {
			t.Fatalf("diagnostics (-want +got):\n%s", diff)
		}
	})

	t.Run("bad plugin never starts the helper", func(t *testing.T) {
		p := NewExecParser(filepath.Join(dir, "does-not-exist"))
		_, err := p.Parse(context.Background(), "m.onnx", []string{filepath.Join(dir, "missing.so")})
		if !errors.Is(err, ErrPluginLoad) {
			t.Fatalf("got %v want ErrPluginLoad", err)
		}
	})
}

func TestDetect(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		if got := Detect("anything"); got != PlatformExcluded {
			t.Fatalf("got %v want %v", got, PlatformExcluded)
		}
		return
	}
	if got := Detect(filepath.Join(t.TempDir(), "missing-helper")); got != Unavailable {
		t.Fatalf("got %v want %v", got, Unavailable)
	}
	helper := writeFile(t, t.TempDir(), "helper", "#!/bin/sh\n", 0o755)
	if got := Detect(helper); got != Available {
		t.Fatalf("got %v want %v", got, Available)
	}
}

func TestLoadErrorMessage(t *testing.T) {
	t.Parallel()
	err := &LoadError{Path: "libfoo.so", Reason: "not an ELF object", Err: errors.New("bad magic")}
	if got, want := err.Error(), "load plugin libfoo.so: not an ELF object: bad magic"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	if got, want := Excluded(), runtime.GOOS == "windows"; got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestCapabilityText(t *testing.T) {
	t.Parallel()
	for _, c := range []Capability{Available, Unavailable, PlatformExcluded} {
		text, err := c.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", c, err)
		}
		var got Capability
		if err := got.UnmarshalText(text); err != nil || got != c {
			t.Fatalf("UnmarshalText(%q): got %v, %v want %v", text, got, err, c)
		}
	}
	var c Capability
	if err := c.UnmarshalText([]byte("gpu")); err == nil {
		t.Fatalf("expected an error for an unknown capability")
	}
}
