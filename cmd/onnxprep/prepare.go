package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/prep"
	"github.com/samcharles93/onnxprep/internal/trt"
)

// prepareSummary is printed by --report-json.
type prepareSummary struct {
	Model       string              `json:"model"`
	Capability  trt.Capability      `json:"capability"`
	Path        string              `json:"path"`
	Output      string              `json:"output,omitempty"`
	HasCustomOp bool                `json:"has_custom_op"`
	CustomOps   []string            `json:"custom_ops"`
	Report      prep.CustomOpReport `json:"report"`
	Artifacts   []string            `json:"artifacts,omitempty"`
}

func prepareCmd() *cli.Command {
	var (
		modelArg         string
		plugins          string
		shapes           string
		externalData     bool
		output           string
		keepIntermediate bool
		always           bool
		reportJSON       bool
	)

	return &cli.Command{
		Name:  "prepare",
		Usage: "Bind calibration shapes and tag TensorRT plugin nodes",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .onnx file, or a directory holding one",
				Destination: &modelArg,
			},
			&cli.StringFlag{
				Name:        "plugins",
				Usage:       "semicolon separated plugin libraries",
				Destination: &plugins,
			},
			&cli.StringFlag{
				Name:        "calibration-shapes",
				Aliases:     []string{"shapes"},
				Usage:       "static input shapes, e.g. input:8x3x224x224,mask:8x224",
				Destination: &shapes,
			},
			&cli.BoolFlag{
				Name:        "external-data",
				Usage:       "read and write weights as external data",
				Destination: &externalData,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "prepared model path (default <model>-prep.onnx)",
				Destination: &output,
			},
			&cli.BoolFlag{
				Name:        "keep-intermediate",
				Usage:       "keep the shape-bound model after the run",
				Destination: &keepIntermediate,
			},
			&cli.BoolFlag{
				Name:        "always-write",
				Usage:       "write the output even when the model is unchanged",
				Destination: &always,
			},
			&cli.BoolFlag{
				Name:        "report-json",
				Usage:       "print a JSON summary to stdout",
				Destination: &reportJSON,
			},
		}, parserFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyPrepareConfig(cmd, cfg, &plugins, &shapes, &externalData, &keepIntermediate)

			modelPath, err := resolveModelPath(modelArg, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 2)
			}
			if _, err := prep.ParseShapeSpec(shapes); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 2)
			}

			parser, capability, source := newParser(layerReport, parserCommand, cfg)
			log.Debug("layer parser", "source", source, "capability", capability.String())

			artifacts := &prep.Artifacts{}
			p := &prep.Pipeline{Parser: parser, Capability: capability, Logger: log}
			res, err := p.Run(ctx, prep.Options{
				Path:              modelPath,
				Plugins:           trt.SplitPluginList(plugins),
				CalibrationShapes: shapes,
				ExternalData:      externalData,
				Artifacts:         artifacts,
			})
			kept := finishArtifacts(artifacts, keepIntermediate, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), exitCode(err))
			}

			out, err := prep.WriteResult(res, prep.OutputOptions{
				Path:         output,
				ExternalData: externalData,
				Always:       always,
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			summary := prepareSummary{
				Model:       modelPath,
				Capability:  capability,
				Path:        res.Path,
				Output:      out,
				HasCustomOp: res.HasCustomOp,
				CustomOps:   res.CustomOps,
				Report:      res.Report,
				Artifacts:   kept,
			}
			if reportJSON {
				return writeSummaryJSON(os.Stdout, summary)
			}
			printSummary(os.Stdout, summary)
			return nil
		},
	}
}

// finishArtifacts removes intermediate files unless keep is set, and returns
// the ones left on disk.
func finishArtifacts(a *prep.Artifacts, keep bool, log logger.Logger) []string {
	if keep {
		return a.Paths()
	}
	if err := a.Cleanup(); err != nil {
		log.Warn("remove intermediate files", "error", err)
	}
	return nil
}

func exitCode(err error) int {
	if errors.Is(err, prep.ErrConfig) {
		return 2
	}
	return 1
}

func writeSummaryJSON(w io.Writer, s prepareSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printSummary(w io.Writer, s prepareSummary) {
	_, _ = fmt.Fprintf(w, "model:      %s\n", s.Model)
	_, _ = fmt.Fprintf(w, "capability: %s\n", s.Capability)
	if s.Path != s.Model {
		_, _ = fmt.Fprintf(w, "bound:      %s\n", s.Path)
	}
	if s.HasCustomOp {
		_, _ = fmt.Fprintf(w, "custom ops: %v (%d nodes)\n", s.CustomOps, len(s.Report.Nodes))
	} else {
		_, _ = fmt.Fprintln(w, "custom ops: none")
	}
	if s.Output != "" {
		_, _ = fmt.Fprintf(w, "output:     %s\n", s.Output)
	} else {
		_, _ = fmt.Fprintln(w, "output:     unchanged, nothing written")
	}
	for _, p := range s.Artifacts {
		_, _ = fmt.Fprintf(w, "kept:       %s\n", p)
	}
}
