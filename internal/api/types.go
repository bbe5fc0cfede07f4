package api

import "github.com/samcharles93/onnxprep/internal/prep"

// PrepareRequest is the body of POST /v1/prepare. Paths are resolved on the
// server's filesystem.
type PrepareRequest struct {
	Model             string   `json:"model"`
	Plugins           []string `json:"plugins,omitempty"`
	CalibrationShapes string   `json:"calibration_shapes,omitempty"`
	ExternalData      bool     `json:"external_data,omitempty"`
	Output            string   `json:"output,omitempty"`
	KeepIntermediate  bool     `json:"keep_intermediate,omitempty"`
}

// PrepareRun is the record of one pipeline run.
type PrepareRun struct {
	ID          string              `json:"id"`
	Object      string              `json:"object"`
	CreatedAt   int64               `json:"created_at"`
	Status      string              `json:"status"`
	Model       string              `json:"model"`
	Path        string              `json:"path,omitempty"`
	Output      string              `json:"output,omitempty"`
	HasCustomOp bool                `json:"has_custom_op"`
	CustomOps   []string            `json:"custom_ops"`
	Report      prep.CustomOpReport `json:"report"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	ElapsedMS   int64               `json:"elapsed_ms"`
	Error       *ResponseError      `json:"error,omitempty"`
}

type CapabilityResponse struct {
	Object     string `json:"object"`
	Capability string `json:"capability"`
	Discovery  bool   `json:"discovery"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
