package prep

import (
	"fmt"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// OutputOptions controls WriteResult.
type OutputOptions struct {
	// Path defaults to DerivedOutputPath of the input model.
	Path         string
	ExternalData bool
	// Always writes the model even when the run left it unchanged.
	Always bool
}

// WriteResult saves the prepared model and returns the path written, or ""
// when the model was unchanged and Always is not set. The input model is never
// overwritten.
func WriteResult(res *Result, opts OutputOptions) (string, error) {
	if !res.Changed && !opts.Always {
		return "", nil
	}
	dst := opts.Path
	if dst == "" {
		dst = DerivedOutputPath(res.Input)
	}
	if dst == res.Input {
		return "", fmt.Errorf("output path %s would overwrite the input model", dst)
	}
	if err := onnx.Save(dst, res.Model, onnx.SaveOptions{ExternalData: opts.ExternalData}); err != nil {
		return "", fmt.Errorf("write prepared model: %w", err)
	}
	return dst, nil
}
