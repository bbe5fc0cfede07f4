package onnx

import "errors"

var (
	ErrCorruptModel   = errors.New("corrupt ONNX model")
	ErrNoGraph        = errors.New("ONNX model has no graph")
	ErrExternalData   = errors.New("invalid ONNX external data reference")
	ErrModelTooLarge  = errors.New("ONNX model exceeds the 2GiB protobuf limit; save with external data")
	ErrNotRegularFile = errors.New("not a regular file")
)
