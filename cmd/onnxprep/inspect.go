package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/onnxprep/internal/prep"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

type valueSummary struct {
	Name    string `json:"name"`
	DType   string `json:"dtype,omitempty"`
	Shape   string `json:"shape,omitempty"`
	Dynamic bool   `json:"dynamic,omitempty"`
}

type nodeSummary struct {
	Name   string `json:"name"`
	OpType string `json:"op_type"`
	Domain string `json:"domain"`
}

type opsetSummary struct {
	Domain  string `json:"domain"`
	Version int64  `json:"version"`
}

type modelSummary struct {
	Path         string            `json:"path"`
	Size         int64             `json:"size"`
	IRVersion    int64             `json:"ir_version"`
	Producer     string            `json:"producer,omitempty"`
	Graph        string            `json:"graph"`
	Opsets       []opsetSummary    `json:"opsets"`
	Inputs       []valueSummary    `json:"inputs"`
	Outputs      []valueSummary    `json:"outputs"`
	Nodes        int               `json:"nodes"`
	Initializers int               `json:"initializers"`
	External     int               `json:"external_initializers"`
	WeightBytes  int64             `json:"weight_bytes"`
	OpTypes      map[string]int    `json:"op_types"`
	CustomNodes  []nodeSummary     `json:"custom_nodes"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		modelArg string
		asJSON   bool
		opLimit  int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the inputs, operator sets and custom nodes of an ONNX model",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .onnx file",
				Destination: &modelArg,
				Required:    true,
			},
			&cli.BoolFlag{Name: "json", Usage: "print the summary as JSON", Destination: &asJSON},
			&cli.IntFlag{Name: "ops-limit", Usage: "limit op type listing (0 = no limit)", Value: 20, Destination: &opLimit},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = ctx

			stat, err := os.Stat(modelArg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat model path %q: %v", modelArg, err), 1)
			}
			if stat.IsDir() {
				return cli.Exit("error: onnxprep inspect needs an .onnx file, not a directory", 1)
			}
			m, err := onnx.Load(modelArg, onnx.LoadOptions{})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			s := summarize(m, modelArg)
			s.Size = stat.Size()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printModelSummary(os.Stdout, s, opLimit)
			return nil
		},
	}
}

func summarize(m *onnx.Model, path string) modelSummary {
	g := m.Graph
	s := modelSummary{
		Path:         path,
		IRVersion:    m.IRVersion,
		Producer:     strings.TrimSpace(m.ProducerName + " " + m.ProducerVersion),
		Graph:        g.Name,
		Opsets:       []opsetSummary{},
		Nodes:        len(g.Nodes),
		Initializers: len(g.Initializers),
		OpTypes:      make(map[string]int),
		CustomNodes:  []nodeSummary{},
	}
	for _, o := range m.OpsetImport {
		domain := o.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		s.Opsets = append(s.Opsets, opsetSummary{Domain: domain, Version: o.Version})
	}

	dynamic := make(map[string]bool)
	for _, d := range prep.DynamicInputs(m) {
		dynamic[d.Name] = true
	}
	inits := g.InitializerNames()
	for _, vi := range g.Inputs {
		if _, ok := inits[vi.Name]; ok {
			continue
		}
		v := describeValue(vi)
		v.Dynamic = dynamic[vi.Name]
		s.Inputs = append(s.Inputs, v)
	}
	for _, vi := range g.Outputs {
		s.Outputs = append(s.Outputs, describeValue(vi))
	}

	for _, n := range g.Nodes {
		key := n.OpType
		if n.Domain != "" {
			key = n.Domain + "::" + n.OpType
		}
		s.OpTypes[key]++
		if n.Domain != "" && n.Domain != "ai.onnx" {
			s.CustomNodes = append(s.CustomNodes, nodeSummary{Name: n.Name, OpType: n.OpType, Domain: n.Domain})
		}
	}
	for _, t := range g.Initializers {
		if t.External() {
			s.External++
			if v, ok := t.ExternalValue("length"); ok {
				var n int64
				if _, err := fmt.Sscan(v, &n); err == nil {
					s.WeightBytes += n
				}
			}
			continue
		}
		s.WeightBytes += int64(len(t.RawData))
	}
	if len(m.MetadataProps) > 0 {
		s.Metadata = make(map[string]string, len(m.MetadataProps))
		for _, e := range m.MetadataProps {
			s.Metadata[e.Key] = e.Value
		}
	}
	return s
}

func describeValue(vi *onnx.ValueInfo) valueSummary {
	v := valueSummary{Name: vi.Name}
	if vi.Type == nil || vi.Type.Tensor == nil {
		return v
	}
	if vi.Type.Tensor.ElemType != onnx.Undefined {
		v.DType = vi.Type.Tensor.ElemType.String()
	}
	if dims, ok := vi.TensorShape(); ok {
		v.Shape = onnx.FormatDims(dims)
	} else {
		v.Shape = "unranked"
	}
	return v
}

func printModelSummary(w io.Writer, s modelSummary, opLimit int) {
	_, _ = fmt.Fprintf(w, "ONNX Inspect: %s\n", s.Path)
	_, _ = fmt.Fprintf(w, "File: %s (%s)\n", filepath.Base(s.Path), formatBytes(uint64(max(s.Size, 0))))
	_, _ = fmt.Fprintf(w, "IR version: %d\n", s.IRVersion)
	if s.Producer != "" {
		_, _ = fmt.Fprintf(w, "Producer: %s\n", s.Producer)
	}
	_, _ = fmt.Fprintf(w, "Graph: %s (%d nodes, %d initializers, %d external, %s of weights)\n",
		s.Graph, s.Nodes, s.Initializers, s.External, formatBytes(uint64(s.WeightBytes)))

	_, _ = fmt.Fprintln(w, "\nOpsets:")
	for _, o := range s.Opsets {
		_, _ = fmt.Fprintf(w, "  %-24s %d\n", o.Domain, o.Version)
	}

	printValues(w, "Inputs", s.Inputs)
	printValues(w, "Outputs", s.Outputs)

	_, _ = fmt.Fprintln(w, "\nOp types:")
	type opCount struct {
		name  string
		count int
	}
	ops := make([]opCount, 0, len(s.OpTypes))
	for k, v := range s.OpTypes {
		ops = append(ops, opCount{k, v})
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].count != ops[j].count {
			return ops[i].count > ops[j].count
		}
		return ops[i].name < ops[j].name
	})
	for i, o := range ops {
		if opLimit > 0 && i >= opLimit {
			_, _ = fmt.Fprintf(w, "  ... %d more\n", len(ops)-opLimit)
			break
		}
		_, _ = fmt.Fprintf(w, "  %-32s %d\n", o.name, o.count)
	}

	if len(s.CustomNodes) > 0 {
		_, _ = fmt.Fprintln(w, "\nCustom-domain nodes:")
		for _, n := range s.CustomNodes {
			_, _ = fmt.Fprintf(w, "  %s (%s::%s)\n", n.Name, n.Domain, n.OpType)
		}
	}
}

func printValues(w io.Writer, title string, values []valueSummary) {
	_, _ = fmt.Fprintf(w, "\n%s:\n", title)
	for _, v := range values {
		dtype := v.DType
		if dtype == "" {
			dtype = "?"
		}
		line := fmt.Sprintf("  %-24s %-10s %s", v.Name, dtype, v.Shape)
		if v.Dynamic {
			line += "  (dynamic)"
		}
		_, _ = fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
