package quant

import (
	"fmt"
	"math"
)

// FakeAffineTensorQuant quantizes x to numBits over [minRange, maxRange] with
// a zero point derived from minRange, then dequantizes. Values inside the range
// that fall on the quantization grid are returned unchanged.
func FakeAffineTensorQuant(x *Tensor, minRange, maxRange float32, numBits int) (*Tensor, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}
	if numBits == 0 {
		numBits = 8
	}
	if numBits < 2 || numBits > 32 {
		return nil, fmt.Errorf("%w: %d", ErrNumBits, numBits)
	}
	if !(minRange < maxRange) {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrRange, minRange, maxRange)
	}

	levels := math.Exp2(float64(numBits))
	step := float32(float64(maxRange-minRange) / (levels - 1))
	minB := float32(-levels / 2)
	maxB := float32(levels/2 - 1)
	zero := float32(math.RoundToEven(float64(minRange/step))) - minB

	out := make([]float32, len(x.Data))
	for i, v := range x.Data {
		q := float32(math.RoundToEven(float64(v/step))) - zero
		q = min(max(q, minB), maxB)
		out[i] = (q + zero) * step
	}
	return finish(x, out), nil
}

// FakeAffineBackward passes grad where minRange <= x <= maxRange.
func FakeAffineBackward(x *Tensor, minRange, maxRange float32, grad *Tensor) (*Tensor, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}
	if len(grad.Data) != len(x.Data) {
		return nil, fmt.Errorf("%w: gradient has %d elements, input %d", ErrShape, len(grad.Data), len(x.Data))
	}
	out := make([]float32, len(x.Data))
	for i, v := range x.Data {
		if minRange <= v && v <= maxRange {
			out[i] = grad.Data[i]
		}
	}
	return finish(grad, out), nil
}
