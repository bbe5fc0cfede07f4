// Package api serves the prepare pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/onnxprep/internal/logger"
	"github.com/samcharles93/onnxprep/internal/prep"
	"github.com/samcharles93/onnxprep/internal/trt"
	"github.com/samcharles93/onnxprep/internal/version"
	"github.com/samcharles93/onnxprep/internal/webui"
)

// Runner runs the prepare pipeline. *prep.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, opts prep.Options) (*prep.Result, error)
}

type Server struct {
	runner     Runner
	capability trt.Capability
	store      *RunStore
	log        logger.Logger
	clock      func() time.Time

	// runs touch the filesystem and the parser helper; one at a time.
	runMu sync.Mutex
}

func NewServer(runner Runner, capability trt.Capability, store *RunStore, log logger.Logger) *Server {
	if store == nil {
		store = NewRunStore(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		runner:     runner,
		capability: capability,
		store:      store,
		log:        log,
		clock:      time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/", s.handleIndex)
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/capability", s.handleCapability)
	e.POST("/v1/prepare", s.handlePrepare)
	e.GET("/v1/prepare", s.handleListRuns)
	e.GET("/v1/prepare/:id", s.handleGetRun)
}

func (s *Server) handleIndex(c *echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/html; charset=utf-8")
	res.WriteHeader(http.StatusOK)
	_, err := res.Write(webui.Index())
	return err
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

func (s *Server) handleCapability(c *echo.Context) error {
	return c.JSON(http.StatusOK, CapabilityResponse{
		Object:     "capability",
		Capability: s.capability.String(),
		Discovery:  s.capability == trt.Available,
	})
}

func (s *Server) handlePrepare(c *echo.Context) error {
	if s.runner == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pipeline not configured", "", "")
	}
	req, err := decodeJSON[PrepareRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	if err := validateRequest(req); err != nil {
		var ire invalidRequestError
		errors.As(err, &ire)
		return writeBadRequest(c, err.Error(), ire.param)
	}

	run := PrepareRun{
		ID:        newRunID(),
		Object:    "prepare.run",
		CreatedAt: s.clock().Unix(),
		Model:     req.Model,
		CustomOps: []string{},
	}
	log := s.log.With("run", run.ID)

	status, err := s.prepare(c.Request().Context(), req, &run, log)
	if err != nil {
		code, re := classify(err)
		run.Status = "failed"
		run.Error = &re
		s.store.Save(run)
		log.Warn("prepare failed", "error", err)
		return c.JSON(code, map[string]any{"error": re, "id": run.ID})
	}
	run.Status = status
	s.store.Save(run)
	return c.JSON(http.StatusOK, run)
}

func (s *Server) prepare(ctx context.Context, req PrepareRequest, run *PrepareRun, log logger.Logger) (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.clock()
	artifacts := &prep.Artifacts{}
	res, err := s.runner.Run(logger.WithContext(ctx, log), prep.Options{
		Path:              req.Model,
		Plugins:           req.Plugins,
		CalibrationShapes: req.CalibrationShapes,
		ExternalData:      req.ExternalData,
		Artifacts:         artifacts,
	})
	defer func() {
		if req.KeepIntermediate {
			run.Artifacts = artifacts.Paths()
			return
		}
		if err := artifacts.Cleanup(); err != nil {
			log.Warn("remove intermediate files", "error", err)
		}
	}()
	if err != nil {
		return "", err
	}

	out, err := prep.WriteResult(res, prep.OutputOptions{
		Path:         req.Output,
		ExternalData: req.ExternalData,
	})
	if err != nil {
		return "", err
	}
	run.Path = res.Path
	run.Output = out
	run.HasCustomOp = res.HasCustomOp
	run.CustomOps = res.CustomOps
	run.Report = res.Report
	run.ElapsedMS = s.clock().Sub(start).Milliseconds()
	if out == "" {
		return "unchanged", nil
	}
	return "completed", nil
}

func validateRequest(req PrepareRequest) error {
	if strings.TrimSpace(req.Model) == "" {
		return newInvalidRequest("model", "model is required")
	}
	if req.Output != "" && req.Output == req.Model {
		return newInvalidRequest("output", "output must differ from model")
	}
	for _, p := range req.Plugins {
		if strings.TrimSpace(p) == "" {
			return newInvalidRequest("plugins", "plugin paths must not be empty")
		}
	}
	return nil
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found: "+id)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   s.store.List(),
	})
}
