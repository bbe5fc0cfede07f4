package prep

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// ShapeSpec maps model input names to concrete calibration dimensions.
type ShapeSpec map[string][]int64

// ParseShapeSpec parses "name:AxBxC,other:D". Names may contain ':' since the
// dimensions follow the last one. An empty string yields an empty spec.
func ParseShapeSpec(s string) (ShapeSpec, error) {
	spec := ShapeSpec{}
	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndex(entry, ":")
		if i <= 0 || i == len(entry)-1 {
			return nil, configErrorf("", "malformed entry %q (want name:AxBxC)", entry)
		}
		name := strings.TrimSpace(entry[:i])
		if _, dup := spec[name]; dup {
			return nil, configErrorf(name, "listed more than once")
		}
		parts := strings.Split(entry[i+1:], "x")
		dims := make([]int64, len(parts))
		for j, p := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil || v < 0 {
				return nil, configErrorf(name, "invalid dimension %q", p)
			}
			dims[j] = v
		}
		spec[name] = dims
	}
	return spec, nil
}

func (s ShapeSpec) String() string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	slices.Sort(names)
	entries := make([]string, len(names))
	for i, name := range names {
		dims := make([]string, len(s[name]))
		for j, d := range s[name] {
			dims[j] = strconv.FormatInt(d, 10)
		}
		entries[i] = name + ":" + strings.Join(dims, "x")
	}
	return strings.Join(entries, ",")
}

// DerivedStaticPath returns the path of the shape-bound copy of a model:
// "dir/model.onnx" becomes "dir/model-static.onnx".
func DerivedStaticPath(path string) string {
	return derivedPath(path, "-static")
}

// DerivedOutputPath returns the default output path of a prepared model.
func DerivedOutputPath(path string) string {
	return derivedPath(path, "-prep")
}

func derivedPath(path, marker string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + marker + ext
}

// DynamicInput is a model input with at least one dimension that is not concrete.
type DynamicInput struct {
	Name string
	// Shape is nil when the rank itself is unknown.
	Shape []onnx.Dim
}

// DynamicInputs lists the graph inputs that are not backed by an initializer
// and have a symbolic or unknown dimension (or an unknown rank).
func DynamicInputs(m *onnx.Model) []DynamicInput {
	if m == nil || m.Graph == nil {
		return nil
	}
	inits := m.Graph.InitializerNames()
	var out []DynamicInput
	for _, vi := range m.Graph.Inputs {
		if _, ok := inits[vi.Name]; ok {
			continue
		}
		if vi.Type == nil || vi.Type.Tensor == nil {
			continue
		}
		dims, ok := vi.TensorShape()
		if !ok {
			out = append(out, DynamicInput{Name: vi.Name})
			continue
		}
		for _, d := range dims {
			if !d.IsConcrete() {
				out = append(out, DynamicInput{Name: vi.Name, Shape: dims})
				break
			}
		}
	}
	return out
}
