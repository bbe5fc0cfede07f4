package trt

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// Report is the JSON document produced by the parser helper.
type Report struct {
	Layers       []Layer       `json:"layers"`
	Errors       []string      `json:"errors,omitempty"`
	PluginErrors []PluginError `json:"plugin_errors,omitempty"`
}

// PluginError is a plugin library the helper failed to load.
type PluginError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Layer is one layer of the parsed network.
type Layer struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	Inputs  []TensorDesc `json:"inputs"`
	Outputs []TensorDesc `json:"outputs"`
}

// IsPlugin reports whether the layer is implemented by a plugin
// (PLUGIN, PLUGIN_V2, PLUGIN_V3).
func (l Layer) IsPlugin() bool {
	return strings.Contains(strings.ToUpper(l.Type), "PLUGIN")
}

// TensorDesc describes a layer input or output. -1 marks an unbounded dimension.
type TensorDesc struct {
	Name  string   `json:"name"`
	Shape []int64  `json:"shape"`
	DType DataType `json:"dtype"`
}

// TensorInfo is the shape and type recovered for one tensor.
type TensorInfo struct {
	Shape []onnx.Dim
	DType DataType
}

// TensorInfoMap maps tensor names to recovered metadata.
type TensorInfoMap map[string]TensorInfo

// Info converts the reported shape, turning negative sizes into unknown dims.
// A missing shape stays nil, meaning the rank is unknown.
func (d TensorDesc) Info() TensorInfo {
	if d.Shape == nil {
		return TensorInfo{DType: d.DType}
	}
	shape := make([]onnx.Dim, len(d.Shape))
	for i, v := range d.Shape {
		if v < 0 {
			shape[i] = onnx.UnknownDim()
			continue
		}
		shape[i] = onnx.DimValue(v)
	}
	return TensorInfo{Shape: shape, DType: d.DType}
}

// DecodeReport parses a layer report.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReport, err)
	}
	return &r, nil
}

// check turns the failures recorded in a report into typed errors. Plugin load
// failures win over parse diagnostics.
func (r *Report) check(path string) error {
	if len(r.PluginErrors) > 0 {
		pe := r.PluginErrors[0]
		return &LoadError{Path: pe.Path, Reason: pe.Message}
	}
	if len(r.Errors) > 0 {
		return &ParseError{Path: path, Diagnostics: r.Errors}
	}
	return nil
}
