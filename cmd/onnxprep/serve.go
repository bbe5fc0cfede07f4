package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/onnxprep/internal/api"
	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/prep"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		keepRuns    int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the prepare pipeline over HTTP",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.IntFlag{
				Name:        "keep-runs",
				Usage:       "number of run records kept in memory",
				Value:       256,
				Destination: &keepRuns,
			},
		}, parserFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, cfg, &addr)

			parser, capability, source := newParser(layerReport, parserCommand, cfg)
			log.Info("layer parser", "source", source, "capability", capability.String())

			pipeline := &prep.Pipeline{Parser: parser, Capability: capability, Logger: log}
			server := api.NewServer(pipeline, capability, api.NewRunStore(keepRuns), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
