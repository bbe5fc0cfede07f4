package onnx

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := Save(path, sampleModel(), SaveOptions{}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got.Graph.Name != "main" || len(got.Graph.Nodes) != 2 {
		t.Fatalf("unexpected graph: name=%q nodes=%d", got.Graph.Name, len(got.Graph.Nodes))
	}
	if len(got.Graph.Initializers[0].RawData) != 48 {
		t.Fatalf("unexpected raw data size: %d", len(got.Graph.Initializers[0].RawData))
	}

	ents, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) != 1 {
		t.Fatalf("expected only the model file, found %d entries", len(ents))
	}
}

func TestSaveExternalData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.onnx")

	m := sampleModel()
	big := bytes.Repeat([]byte{1, 2, 3, 4}, 512)
	m.Graph.Initializers = append(m.Graph.Initializers,
		&Tensor{Dims: []int64{512}, DataType: Float, Name: "big0", RawData: big},
		&Tensor{Dims: []int64{3}, DataType: Float, Name: "small", RawData: make([]byte, 12)},
		&Tensor{Dims: []int64{512}, DataType: Float, Name: "big1", RawData: big[:2044]},
	)

	if err := Save(path, m, SaveOptions{ExternalData: true}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if m.Graph.Initializers[1].RawData == nil || m.Graph.Initializers[1].External() {
		t.Fatalf("Save must not modify the caller's model")
	}
	if _, err := os.Stat(path + ".data"); err != nil {
		t.Fatalf("expected sidecar data file: %v", err)
	}

	t.Run("references kept without external data", func(t *testing.T) {
		got, err := Load(path, LoadOptions{})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		byName := map[string]*Tensor{}
		for _, init := range got.Graph.Initializers {
			byName[init.Name] = init
		}
		if !byName["big0"].External() || !byName["big1"].External() {
			t.Fatalf("expected large tensors to be external")
		}
		if byName["small"].External() || byName["w"].External() {
			t.Fatalf("expected tensors under the threshold to stay inline")
		}
		off, _ := byName["big1"].ExternalValue("offset")
		if off != "2048" {
			t.Fatalf("expected second payload at aligned offset 2048, got %s", off)
		}
	})

	t.Run("external data resolved", func(t *testing.T) {
		got, err := Load(path, LoadOptions{ExternalData: true})
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		for _, init := range got.Graph.Initializers {
			if init.External() {
				t.Fatalf("tensor %q still external", init.Name)
			}
		}
		if !bytes.Equal(got.Graph.Initializers[1].RawData, big) {
			t.Fatalf("big0 payload mismatch")
		}
		if !bytes.Equal(got.Graph.Initializers[3].RawData, big[:2044]) {
			t.Fatalf("big1 payload mismatch")
		}
	})
}

func TestLoadRejectsEscapingLocation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.onnx")
	m := sampleModel()
	m.Graph.Initializers[0] = &Tensor{
		Name:         "w",
		DataType:     Float,
		DataLocation: LocationExternal,
		ExternalData: []StringEntry{{Key: "location", Value: "../weights.bin"}},
	}
	if err := Save(path, m, SaveOptions{}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	_, err := Load(path, LoadOptions{ExternalData: true})
	if !errors.Is(err, ErrExternalData) {
		t.Fatalf("expected ErrExternalData, got %v", err)
	}
}

func TestLoadMissingGraph(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.onnx")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, LoadOptions{}); !errors.Is(err, ErrNoGraph) {
		t.Fatalf("expected ErrNoGraph, got %v", err)
	}
}
