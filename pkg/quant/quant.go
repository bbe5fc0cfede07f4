package quant

import (
	"fmt"
	"math"
	"slices"
)

const (
	// zeroAmax is the smallest positive fp16 subnormal. Channels whose amax is at
	// or below it quantize to zero.
	zeroAmax = 1.0 / (1 << 24)
	maxHalf  = 65504
)

// Options configures symmetric quantization.
type Options struct {
	// NumBits defaults to 8.
	NumBits int
	// Unsigned quantizes to [0, 2^bits-1]; inputs must be non-negative.
	Unsigned bool
	// FullRange uses [-2^(bits-1), 2^(bits-1)-1] instead of the narrow
	// [-(2^(bits-1)-1), 2^(bits-1)-1] for signed quantization.
	FullRange bool
}

func (o Options) bits() int {
	if o.NumBits == 0 {
		return 8
	}
	return o.NumBits
}

// Bounds returns the integer range used for the given options.
func Bounds(opts Options) (minBound, maxBound float32, err error) {
	bits := opts.bits()
	if bits < 2 || bits > 32 {
		return 0, 0, fmt.Errorf("%w: %d", ErrNumBits, bits)
	}
	shift := bits - 1
	if opts.Unsigned {
		shift++
	}
	maxBound = float32(math.Exp2(float64(shift)) - 1)
	switch {
	case opts.Unsigned:
		minBound = 0
	case opts.FullRange:
		minBound = -maxBound - 1
	default:
		minBound = -maxBound
	}
	return minBound, maxBound, nil
}

func roundClamp(v, lo, hi float32) float32 {
	r := float32(math.RoundToEven(float64(v)))
	return min(max(r, lo), hi)
}

type prepared struct {
	idx        []int
	minB, maxB float32
}

func prepare(x, amax *Tensor, opts Options) (*prepared, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}
	idx, err := broadcastIndex(x, amax)
	if err != nil {
		return nil, err
	}
	for _, a := range amax.Data {
		if a < 0 {
			return nil, ErrNegativeAmax
		}
	}
	minB, maxB, err := Bounds(opts)
	if err != nil {
		return nil, err
	}
	if opts.Unsigned && slices.ContainsFunc(x.Data, func(v float32) bool { return v < 0 }) {
		return nil, ErrNegativeInput
	}
	return &prepared{idx: idx, minB: minB, maxB: maxB}, nil
}

// TensorQuant quantizes x symmetrically with per-tensor or per-channel amax
// (broadcast against x). It returns the integer values as floats and the scale
// maxBound/amax, shaped like amax. Channels with amax at or below 2^-24
// quantize to zero and report a scale of 1.
func TensorQuant(x, amax *Tensor, opts Options) (q, scale *Tensor, err error) {
	p, err := prepare(x, amax, opts)
	if err != nil {
		return nil, nil, err
	}

	s := make([]float32, len(amax.Data))
	for i, a := range amax.Data {
		if a <= zeroAmax {
			continue
		}
		s[i] = p.maxB / a
	}
	if x.DType == Float16 && len(s) > 0 && slices.Max(s) > maxHalf {
		return nil, nil, ErrScaleOverflowFP16
	}

	out := make([]float32, len(x.Data))
	for i, v := range x.Data {
		out[i] = roundClamp(v*s[p.idx[i]], p.minB, p.maxB)
	}
	for i, a := range amax.Data {
		if a <= zeroAmax {
			s[i] = 1
		}
	}
	return finish(x, out), &Tensor{Shape: slices.Clone(amax.Shape), Data: s, DType: amax.DType}, nil
}

// FakeTensorQuant quantizes and dequantizes x in one pass, multiplying the
// integer values by amax/maxBound. The result has the dtype of x and never
// overflows fp16 since it is bounded by amax.
func FakeTensorQuant(x, amax *Tensor, opts Options) (*Tensor, error) {
	p, err := prepare(x, amax, opts)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(x.Data))
	for i, v := range x.Data {
		a := amax.Data[p.idx[i]]
		if a <= zeroAmax {
			continue
		}
		q := roundClamp(v*(p.maxB/a), p.minB, p.maxB)
		out[i] = q * (a / p.maxB)
	}
	return finish(x, out), nil
}

// FakeTensorQuantUnfused is TensorQuant followed by division by the scale.
// It agrees with FakeTensorQuant up to float rounding.
func FakeTensorQuantUnfused(x, amax *Tensor, opts Options) (*Tensor, error) {
	wide := x
	if x.DType == Float16 {
		// The scale may exceed the fp16 range; dequantization is done in float32.
		wide = &Tensor{Shape: x.Shape, Data: x.Data, DType: Float32}
	}
	q, scale, err := TensorQuant(wide, amax, opts)
	if err != nil {
		return nil, err
	}
	idx, err := broadcastIndex(x, scale)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(q.Data))
	for i, v := range q.Data {
		out[i] = v / scale.Data[idx[i]]
	}
	return finish(x, out), nil
}

// TensorQuantBackward is the straight-through estimator for TensorQuant and
// FakeTensorQuant: grad passes where |x| <= amax and is zero elsewhere.
func TensorQuantBackward(x, amax, grad *Tensor) (*Tensor, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}
	if len(grad.Data) != len(x.Data) {
		return nil, fmt.Errorf("%w: gradient has %d elements, input %d", ErrShape, len(grad.Data), len(x.Data))
	}
	idx, err := broadcastIndex(x, amax)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(x.Data))
	for i, v := range x.Data {
		a := amax.Data[idx[i]]
		if -a <= v && v <= a {
			out[i] = grad.Data[i]
		}
	}
	return finish(grad, out), nil
}
