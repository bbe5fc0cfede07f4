package api

import (
	"errors"
	"io"
	"io/fs"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/onnxprep/internal/prep"
	"github.com/samcharles93/onnxprep/internal/trt"
	"github.com/samcharles93/onnxprep/pkg/onnx"
)

func writeBadRequest(c *echo.Context, msg, param string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, param, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// classify maps a pipeline error to an HTTP status and error type. Plugin
// errors are checked before fs.ErrNotExist since a missing library wraps it.
func classify(err error) (int, ResponseError) {
	re := ResponseError{Message: err.Error()}
	var (
		loadErr  *trt.LoadError
		parseErr *trt.ParseError
	)
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, prep.ErrConfig):
		re.Type = "invalid_request_error"
		return http.StatusBadRequest, re
	case errors.As(err, &loadErr):
		re.Type, re.Code, re.Param = "plugin_error", "plugin_load_failed", loadErr.Path
		return http.StatusUnprocessableEntity, re
	case errors.As(err, &parseErr):
		re.Type, re.Code = "parse_error", "network_parse_failed"
		return http.StatusUnprocessableEntity, re
	case errors.Is(err, fs.ErrNotExist):
		re.Type = "not_found_error"
		return http.StatusNotFound, re
	case errors.Is(err, onnx.ErrCorruptModel), errors.Is(err, onnx.ErrNoGraph), errors.Is(err, onnx.ErrExternalData):
		re.Type, re.Code = "invalid_request_error", "invalid_model"
		return http.StatusBadRequest, re
	default:
		re.Type = "server_error"
		return http.StatusInternalServerError, re
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
