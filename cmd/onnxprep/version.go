package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/samcharles93/onnxprep/internal/trt"
	"github.com/samcharles93/onnxprep/internal/version"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			command, _ := resolveParser(parserCommand, cfg)
			fmt.Printf("trt parser: %s (%s)\n", command, trt.Detect(command))
			return nil
		},
	}
}
