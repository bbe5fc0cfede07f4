package prep

import (
	"fmt"
	"slices"

	"github.com/samcharles93/onnxprep/internal/graph"
	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/trt"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

const (
	// CustomDomain is the operator domain TensorRT looks up plugins in.
	CustomDomain        = "trt.plugins"
	CustomDomainVersion = 1
)

// CustomOpReport lists what Tag changed.
type CustomOpReport struct {
	// OpTypes is sorted and has no duplicates.
	OpTypes []string `json:"op_types"`
	// Nodes are the tagged node names in graph order.
	Nodes []string `json:"nodes"`
}

// Empty reports whether no node was tagged.
func (r CustomOpReport) Empty() bool { return len(r.Nodes) == 0 }

// Tag moves the nodes named in custom into CustomDomain, fills in shape and type
// of node outputs that have no type yet from info, normalizes the graph and
// declares CustomDomain in the opset manifest. Running it twice with the same
// inputs leaves the graph unchanged the second time.
func Tag(g *graph.Graph, custom map[string]struct{}, info trt.TensorInfoMap, log logger.Logger) (CustomOpReport, error) {
	var report CustomOpReport
	if len(custom) == 0 {
		return report, nil
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.With("stage", "tag")

	for _, n := range g.Nodes {
		if _, ok := custom[n.Name]; !ok {
			continue
		}
		n.Domain = CustomDomain
		report.Nodes = append(report.Nodes, n.Name)
		if !slices.Contains(report.OpTypes, n.OpType) {
			report.OpTypes = append(report.OpTypes, n.OpType)
		}
	}
	slices.Sort(report.OpTypes)
	if len(report.Nodes) < len(custom) {
		log.Debug("some custom layers have no matching node", "layers", len(custom), "nodes", len(report.Nodes))
	}

	for _, n := range g.Nodes {
		for _, t := range n.Outputs {
			if t == nil {
				continue
			}
			ti, ok := info[t.Name]
			if !ok || t.DType != onnx.Undefined {
				continue
			}
			t.Shape = slices.Clone(ti.Shape)
			dt, ok := ti.DType.ToONNX()
			if !ok {
				log.Warn("no ONNX type for TensorRT type, leaving it unset", "tensor", t.Name, "trt_type", string(ti.DType))
				continue
			}
			t.DType = dt
		}
	}

	g.Cleanup()
	if err := g.Toposort(); err != nil {
		return report, fmt.Errorf("tag: %w", err)
	}

	if len(report.Nodes) > 0 && g.AddOpset(CustomDomain, CustomDomainVersion) {
		log.Debug("declared custom operator domain", "domain", CustomDomain, "version", CustomDomainVersion)
	}
	if !report.Empty() {
		log.Info("tagged custom operators", "ops", report.OpTypes, "nodes", len(report.Nodes))
	}
	return report, nil
}
