package prep

import (
	"context"
	"fmt"

	"github.com/samcharles93/onnxprep/internal/trt"
)

// Discover parses the model at path with the given plugins loaded and returns
// the names of plugin-implemented layers together with the shape and type the
// parser recovered for every tensor it saw.
//
// Tensor info is first-seen-wins: layers are visited in report order, inputs
// before outputs, and a later occurrence never replaces an earlier one.
// Plugin load and parse failures are returned as *trt.LoadError and
// *trt.ParseError.
func Discover(ctx context.Context, parser trt.Parser, path string, plugins []string) (map[string]struct{}, trt.TensorInfoMap, error) {
	layers, err := parser.Parse(ctx, path, plugins)
	if err != nil {
		return nil, nil, fmt.Errorf("discover custom operators: %w", err)
	}

	custom := make(map[string]struct{})
	info := make(trt.TensorInfoMap)
	record := func(descs []trt.TensorDesc) {
		for _, d := range descs {
			if d.Name == "" {
				continue
			}
			if _, seen := info[d.Name]; seen {
				continue
			}
			info[d.Name] = d.Info()
		}
	}
	for _, l := range layers {
		if l.IsPlugin() {
			custom[l.Name] = struct{}{}
		}
		record(l.Inputs)
		record(l.Outputs)
	}
	return custom, info, nil
}
