package trt

import (
	"strings"

	"github.com/samcharles93/onnxprep/pkg/onnx"
)

// DataType is a TensorRT data type name as reported by the parser ("FLOAT", "HALF", ...).
type DataType string

const (
	Float DataType = "FLOAT"
	Half  DataType = "HALF"
	BF16  DataType = "BF16"
	Int8  DataType = "INT8"
	Int32 DataType = "INT32"
	Int64 DataType = "INT64"
	Bool  DataType = "BOOL"
	Uint8 DataType = "UINT8"
	FP8   DataType = "FP8"
	Int4  DataType = "INT4"
)

var onnxTypes = map[DataType]onnx.DataType{
	Float: onnx.Float,
	Half:  onnx.Float16,
	BF16:  onnx.BFloat16,
	Int8:  onnx.Int8,
	Int32: onnx.Int32,
	Int64: onnx.Int64,
	Bool:  onnx.Bool,
	Uint8: onnx.Uint8,
	FP8:   onnx.Float8E4M3FN,
	Int4:  onnx.Int4,
}

// ToONNX translates d to the ONNX element type. The "DataType." prefix printed
// by the Python bindings is accepted.
func (d DataType) ToONNX() (onnx.DataType, bool) {
	name := strings.ToUpper(strings.TrimPrefix(string(d), "DataType."))
	t, ok := onnxTypes[DataType(name)]
	return t, ok
}
