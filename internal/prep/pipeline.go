// Package prep prepares ONNX models for TensorRT: it binds dynamic input
// shapes, discovers plugin-implemented operators with the TensorRT parser and
// tags them so the graph compiler can place custom kernels.
package prep

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/onnxprep/internal/graph"
	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/trt"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// Pipeline runs Bind, Discover and Tag in order. Capability is detected once
// by the caller; discovery only runs when it is trt.Available.
type Pipeline struct {
	Parser     trt.Parser
	Capability trt.Capability
	Logger     logger.Logger
}

// Options are the inputs of one run.
type Options struct {
	Path              string
	Plugins           []string
	CalibrationShapes string
	ExternalData      bool
	// Artifacts receives intermediate files; may be nil.
	Artifacts *Artifacts
}

// Result is the outcome of one run.
type Result struct {
	Model       *onnx.Model
	HasCustomOp bool
	// CustomOps is sorted and has no duplicates.
	CustomOps []string
	// Input is Options.Path.
	Input string
	// Path is the shape-bound model if one was written, else the input path.
	Path   string
	Report CustomOpReport
	// Changed is set when the returned model differs from the file at Options.Path.
	Changed bool
}

// Run prepares the model at opts.Path. It never deletes the artifacts it creates.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	log := p.Logger
	if log == nil {
		log = logger.FromContext(ctx)
	}
	log = log.With("model", opts.Path)
	start := time.Now()

	m, err := onnx.Load(opts.Path, onnx.LoadOptions{ExternalData: opts.ExternalData})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	bound, staticPath, err := Bind(m, opts.CalibrationShapes, opts.Path, BindOptions{
		ExternalData: opts.ExternalData,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Model: bound, Input: opts.Path, Path: opts.Path, CustomOps: []string{}}
	if staticPath != "" {
		res.Path = staticPath
		res.Changed = true
		if opts.Artifacts != nil {
			opts.Artifacts.AppendModel(staticPath)
		}
	}

	if p.Capability != trt.Available {
		log.Info("skipping custom operator discovery", "capability", p.Capability.String())
		return res, nil
	}
	if p.Parser == nil {
		return nil, fmt.Errorf("custom operator discovery: no parser configured")
	}

	custom, info, err := Discover(ctx, p.Parser, res.Path, opts.Plugins)
	if err != nil {
		return nil, err
	}
	log.With("stage", "discover").Debug("parsed network", "custom_layers", len(custom), "tensors", len(info))
	matched := matchNodes(bound, custom)
	if len(matched) < len(custom) {
		log.Warn("custom layers with no matching node", "layers", len(custom), "matched", len(matched))
	}
	if len(matched) == 0 {
		log.Info("no custom operators found", "elapsed", time.Since(start))
		return res, nil
	}

	g, err := graph.Import(bound)
	if err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	report, err := Tag(g, matched, info, log)
	if err != nil {
		return nil, err
	}
	res.Model = g.Export()
	res.Report = report
	res.HasCustomOp = !report.Empty()
	if res.HasCustomOp {
		res.CustomOps = report.OpTypes
		res.Changed = true
	}
	log.Info("prepared model", "custom_ops", res.CustomOps, "elapsed", time.Since(start))
	return res, nil
}

// matchNodes keeps the custom layer names that name a node of m.
func matchNodes(m *onnx.Model, custom map[string]struct{}) map[string]struct{} {
	matched := make(map[string]struct{}, len(custom))
	for _, n := range m.Graph.Nodes {
		if _, ok := custom[n.Name]; ok {
			matched[n.Name] = struct{}{}
		}
	}
	return matched
}
