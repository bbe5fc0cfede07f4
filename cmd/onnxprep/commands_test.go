package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/prep"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

func floatValue(name string, dims ...onnx.Dim) *onnx.ValueInfo {
	return &onnx.ValueInfo{
		Name: name,
		Type: &onnx.TypeInfo{Tensor: &onnx.TensorType{ElemType: onnx.Float, Shape: &onnx.Shape{Dims: dims}}},
	}
}

func testModel() *onnx.Model {
	return &onnx.Model{
		IRVersion:     8,
		ProducerName:  "pytorch",
		OpsetImport:   []onnx.OpsetID{{Version: 17}, {Domain: prep.CustomDomain, Version: 1}},
		MetadataProps: []onnx.StringEntry{{Key: "author", Value: "test"}},
		Graph: &onnx.Graph{
			Name: "net",
			Nodes: []*onnx.Node{
				{Name: "conv", OpType: "Conv", Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
				{Name: "act", OpType: "Relu", Inputs: []string{"h"}, Outputs: []string{"r"}},
				{Name: "N1", OpType: "MyPlugin", Domain: prep.CustomDomain, Inputs: []string{"r"}, Outputs: []string{"z"}},
			},
			Initializers: []*onnx.Tensor{
				{Name: "w", Dims: []int64{16, 3, 1, 1}, DataType: onnx.Float, RawData: make([]byte, 192)},
			},
			Inputs: []*onnx.ValueInfo{
				floatValue("x", onnx.DimParam("batch"), onnx.DimValue(3), onnx.DimValue(4), onnx.DimValue(4)),
				floatValue("w", onnx.DimValue(16), onnx.DimValue(3), onnx.DimValue(1), onnx.DimValue(1)),
			},
			Outputs: []*onnx.ValueInfo{{Name: "z"}},
		},
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	s := summarize(testModel(), "net.onnx")

	if s.Nodes != 3 || s.Initializers != 1 || s.WeightBytes != 192 {
		t.Fatalf("got nodes=%d initializers=%d weights=%d", s.Nodes, s.Initializers, s.WeightBytes)
	}
	if len(s.Inputs) != 1 || s.Inputs[0].Name != "x" || !s.Inputs[0].Dynamic {
		t.Fatalf("got inputs %+v want only dynamic x", s.Inputs)
	}
	if s.Inputs[0].Shape != "[batch, 3, 4, 4]" || s.Inputs[0].DType != "FLOAT" {
		t.Fatalf("got x %+v", s.Inputs[0])
	}
	if len(s.Outputs) != 1 || s.Outputs[0].DType != "" {
		t.Fatalf("got outputs %+v", s.Outputs)
	}
	if s.OpTypes["Conv"] != 1 || s.OpTypes[prep.CustomDomain+"::MyPlugin"] != 1 {
		t.Fatalf("got op types %v", s.OpTypes)
	}
	if len(s.CustomNodes) != 1 || s.CustomNodes[0].Name != "N1" {
		t.Fatalf("got custom nodes %+v", s.CustomNodes)
	}
	if len(s.Opsets) != 2 || s.Opsets[0].Domain != "ai.onnx" {
		t.Fatalf("got opsets %+v", s.Opsets)
	}
	if s.Metadata["author"] != "test" {
		t.Fatalf("got metadata %v", s.Metadata)
	}

	var buf bytes.Buffer
	printModelSummary(&buf, s, 1)
	out := buf.String()
	for _, want := range []string{"(dynamic)", "... 2 more", "N1 (trt.plugins::MyPlugin)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	tests := map[uint64]string{
		0:       "0 B",
		1023:    "1023 B",
		1536:    "1.50 KiB",
		5 << 20: "5.00 MiB",
		3 << 30: "3.00 GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d): got %q want %q", in, got, want)
		}
	}
}

const pluginReport = `{"layers":[
 {"name":"N1","type":"PLUGIN_V2",
  "inputs":[{"name":"x","shape":[2,3,4,4],"dtype":"FLOAT"}],
  "outputs":[{"name":"z","shape":[2,16],"dtype":"HALF"}]}
]}`

func TestPrepareCommand(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "net.onnx")
	m := &onnx.Model{
		IRVersion:   8,
		OpsetImport: []onnx.OpsetID{{Version: 17}},
		Graph: &onnx.Graph{
			Name:    "net",
			Nodes:   []*onnx.Node{{Name: "N1", OpType: "MyPlugin", Inputs: []string{"x"}, Outputs: []string{"z"}}},
			Inputs:  []*onnx.ValueInfo{floatValue("x", onnx.DimParam("batch"), onnx.DimValue(3), onnx.DimValue(4), onnx.DimValue(4))},
			Outputs: []*onnx.ValueInfo{{Name: "z"}},
		},
	}
	if err := onnx.Save(model, m, onnx.SaveOptions{}); err != nil {
		t.Fatalf("save model: %v", err)
	}
	report := filepath.Join(dir, "layers.json")
	if err := os.WriteFile(report, []byte(pluginReport), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}

	prev := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	t.Cleanup(func() {
		os.Stdout = prev
		layerReport = ""
	})

	ctx := logger.WithContext(context.Background(), logger.Discard())
	runErr := prepareCmd().Run(ctx, []string{
		"prepare", "--model", model,
		"--calibration-shapes", "x:2x3x4x4",
		"--layer-report", report,
		"--report-json",
	})
	_ = w.Close()
	os.Stdout = prev
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if runErr != nil {
		t.Fatalf("prepare: %v", runErr)
	}

	var got prepareSummary
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out.String())
	}
	if !got.HasCustomOp || len(got.CustomOps) != 1 || got.CustomOps[0] != "MyPlugin" {
		t.Fatalf("got %+v", got)
	}
	if want := prep.DerivedOutputPath(model); got.Output != want {
		t.Fatalf("got output %q want %q", got.Output, want)
	}
	if _, err := os.Stat(prep.DerivedStaticPath(model)); !os.IsNotExist(err) {
		t.Fatalf("intermediate model left behind: %v", err)
	}

	prepared, err := onnx.Load(got.Output, onnx.LoadOptions{})
	if err != nil {
		t.Fatalf("load prepared: %v", err)
	}
	dims, _ := prepared.Graph.Inputs[0].TensorShape()
	if onnx.FormatDims(dims) != "[2, 3, 4, 4]" {
		t.Fatalf("got input dims %s", onnx.FormatDims(dims))
	}
	if prepared.Graph.Nodes[0].Domain != prep.CustomDomain {
		t.Fatalf("got domain %q want %q", prepared.Graph.Nodes[0].Domain, prep.CustomDomain)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	if _, err := prep.ParseShapeSpec("x"); exitCode(err) != 2 {
		t.Fatalf("config errors exit 2")
	}
	if exitCode(os.ErrNotExist) != 1 {
		t.Fatalf("other errors exit 1")
	}
}
