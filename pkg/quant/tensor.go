// Package quant implements fake quantization kernels used to simulate integer
// inference in floating point: symmetric per-tensor and per-channel
// quantization, affine (min/max) quantization and their straight-through
// gradient estimators.
//
// All arithmetic is carried out in float32. Half-precision tensors are widened
// on input and rounded back to fp16 on output.
package quant

import (
	"errors"
	"fmt"
	"slices"

	"github.com/x448/float16"
)

var (
	ErrShape             = errors.New("quant: shapes are not broadcastable")
	ErrNumBits           = errors.New("quant: num bits out of range")
	ErrNegativeAmax      = errors.New("quant: negative values in amax")
	ErrNegativeInput     = errors.New("quant: negative values encountered in unsigned quantization")
	ErrScaleOverflowFP16 = errors.New("quant: scale is too large for FP16")
	ErrRange             = errors.New("quant: min must be smaller than max")
)

// DType is the storage precision of a Tensor.
type DType uint8

const (
	Float32 DType = iota
	Float16
)

func (d DType) String() string {
	if d == Float16 {
		return "float16"
	}
	return "float32"
}

// Tensor is a dense row-major tensor. Float16 tensors keep their values in
// Data as float32 numbers that are exactly representable in half precision.
type Tensor struct {
	Shape []int
	Data  []float32
	DType DType
}

// New returns a float32 tensor; data is used without copying.
func New(shape []int, data []float32) *Tensor {
	return &Tensor{Shape: shape, Data: data, DType: Float32}
}

// Scalar returns a rank-0 float32 tensor.
func Scalar(v float32) *Tensor {
	return New(nil, []float32{v})
}

// Half rounds every value of t to fp16 and returns the result as a Float16 tensor.
func Half(t *Tensor) *Tensor {
	out := &Tensor{Shape: slices.Clone(t.Shape), Data: make([]float32, len(t.Data)), DType: Float16}
	for i, v := range t.Data {
		out.Data[i] = roundHalf(v)
	}
	return out
}

// Len is the number of elements implied by Shape.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) validate() error {
	if len(t.Data) != t.Len() {
		return fmt.Errorf("%w: shape %v holds %d elements, data has %d", ErrShape, t.Shape, t.Len(), len(t.Data))
	}
	return nil
}

func roundHalf(v float32) float32 {
	return float16.Fromfloat32(v).Float32()
}

// finish applies the output precision of like to data.
func finish(like *Tensor, data []float32) *Tensor {
	out := &Tensor{Shape: slices.Clone(like.Shape), Data: data, DType: like.DType}
	if like.DType == Float16 {
		for i, v := range data {
			data[i] = roundHalf(v)
		}
	}
	return out
}

// broadcastIndex maps every element of a tensor shaped like x to the element of
// b that numpy-style broadcasting would pair it with. b's shape is right-aligned
// with x's and each of its dims must be 1 or equal to the matching dim of x.
func broadcastIndex(x, b *Tensor) ([]int, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if len(b.Shape) > len(x.Shape) {
		return nil, fmt.Errorf("%w: %v into %v", ErrShape, b.Shape, x.Shape)
	}
	offset := len(x.Shape) - len(b.Shape)
	strides := make([]int, len(x.Shape))
	stride := 1
	for i := len(b.Shape) - 1; i >= 0; i-- {
		switch b.Shape[i] {
		case x.Shape[offset+i]:
			strides[offset+i] = stride
		case 1:
		default:
			return nil, fmt.Errorf("%w: %v into %v", ErrShape, b.Shape, x.Shape)
		}
		stride *= b.Shape[i]
	}

	n := x.Len()
	idx := make([]int, n)
	coord := make([]int, len(x.Shape))
	for i := range n {
		j := 0
		for d, c := range coord {
			j += c * strides[d]
		}
		idx[i] = j
		for d := len(coord) - 1; d >= 0; d-- {
			coord[d]++
			if coord[d] < x.Shape[d] {
				break
			}
			coord[d] = 0
		}
	}
	return idx, nil
}
