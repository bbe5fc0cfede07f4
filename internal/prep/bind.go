package prep

import (
	"fmt"
	"maps"
	"slices"

	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// BindOptions controls Bind.
type BindOptions struct {
	// ExternalData saves the shape-bound model with weights in a sidecar file.
	ExternalData bool
	Logger       logger.Logger
}

// Bind fixes the symbolic input dimensions of m to the sizes in shapes, a
// "name:AxBxC,..." calibration spec, and saves the result next to path.
//
// When m has no dynamic inputs, or shapes is empty, or nothing changes, m itself
// is returned with an empty artifact path. Otherwise the returned model is a copy
// and the artifact path is DerivedStaticPath(path). m is never modified.
// Concrete dimensions are never overwritten.
func Bind(m *onnx.Model, shapes, path string, opts BindOptions) (*onnx.Model, string, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("stage", "bind")

	dynamic := DynamicInputs(m)
	if len(dynamic) == 0 {
		log.Debug("no dynamic inputs")
		return m, "", nil
	}
	spec, err := ParseShapeSpec(shapes)
	if err != nil {
		return nil, "", err
	}
	if len(spec) == 0 {
		for _, in := range dynamic {
			log.Info("dynamic input left symbolic, no calibration shapes given",
				"input", in.Name, "shape", onnx.FormatDims(in.Shape))
		}
		return m, "", nil
	}

	inputs := slices.Clone(m.Graph.Inputs)
	byName := make(map[string]int, len(inputs))
	for i, vi := range inputs {
		byName[vi.Name] = i
	}
	inits := m.Graph.InitializerNames()
	for _, name := range slices.Sorted(maps.Keys(spec)) {
		if _, ok := byName[name]; !ok {
			return nil, "", configErrorf(name, "not an input of the model")
		}
		if _, ok := inits[name]; ok {
			return nil, "", configErrorf(name, "input is backed by an initializer")
		}
	}

	changed := false
	for i, vi := range inputs {
		dims, ok := spec[vi.Name]
		if !ok {
			continue
		}
		bound, ok, err := bindInput(vi, dims)
		if err != nil {
			return nil, "", err
		}
		if ok {
			inputs[i] = bound
			changed = true
		}
	}
	for _, in := range dynamic {
		if _, ok := spec[in.Name]; !ok {
			log.Warn("dynamic input has no calibration shape", "input", in.Name, "shape", onnx.FormatDims(in.Shape))
		}
	}
	if !changed {
		return m, "", nil
	}

	g := *m.Graph
	g.Inputs = inputs
	out := *m
	out.Graph = &g

	dst := DerivedStaticPath(path)
	if err := onnx.Save(dst, &out, onnx.SaveOptions{ExternalData: opts.ExternalData}); err != nil {
		return nil, "", fmt.Errorf("save shape-bound model: %w", err)
	}
	log.Info("saved model with static input shapes", "path", dst, "shapes", spec.String())
	return &out, dst, nil
}

// bindInput returns a copy of vi with its non-concrete dims set from dims.
func bindInput(vi *onnx.ValueInfo, dims []int64) (*onnx.ValueInfo, bool, error) {
	if vi.Type == nil || vi.Type.Tensor == nil {
		return nil, false, configErrorf(vi.Name, "not a tensor input")
	}
	cur, known := vi.TensorShape()
	if known && len(cur) != len(dims) {
		return nil, false, configErrorf(vi.Name, "rank mismatch: model declares %d dims, got %d", len(cur), len(dims))
	}

	next := make([]onnx.Dim, len(dims))
	changed := !known
	for i, v := range dims {
		if known && cur[i].IsConcrete() {
			next[i] = cur[i]
			continue
		}
		d := onnx.DimValue(v)
		if known {
			d.Denotation = cur[i].Denotation
		}
		next[i] = d
		changed = true
	}
	if !changed {
		return vi, false, nil
	}

	tt := *vi.Type.Tensor
	tt.Shape = &onnx.Shape{Dims: next}
	ti := *vi.Type
	ti.Tensor = &tt
	out := *vi
	out.Type = &ti
	return &out, true, nil
}
