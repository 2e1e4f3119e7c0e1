package kernels

import (
	"math"

	"github.com/sbl8/staticgraph/model"
)

// Fixed-point helpers following the gemmlowp rounding conventions used by
// int8 inference runtimes.

// QuantizeMultiplier expresses real as a Q31 multiplier and a power-of-two
// shift, so that real ≈ multiplier * 2^(shift-31).
func QuantizeMultiplier(real float64) (int32, int) {
	if real == 0 {
		return 0, 0
	}
	q, shift := math.Frexp(real)
	fixed := int64(math.Round(q * (1 << 31)))
	if fixed == 1<<31 {
		fixed /= 2
		shift++
	}
	if shift < -31 {
		return 0, 0
	}
	return int32(fixed), shift
}

func saturatingRoundingDoublingHighMul(a, b int32) int32 {
	if a == b && a == math.MinInt32 {
		return math.MaxInt32
	}
	ab := int64(a) * int64(b)
	nudge := int64(1 << 30)
	if ab < 0 {
		nudge = 1 - (1 << 30)
	}
	return int32((ab + nudge) / (1 << 31))
}

func roundingDivideByPOT(x int32, exponent int) int32 {
	mask := int32(1)<<exponent - 1
	remainder := x & mask
	threshold := mask >> 1
	if x < 0 {
		threshold++
	}
	out := x >> exponent
	if remainder > threshold {
		out++
	}
	return out
}

// MultiplyByQuantizedMultiplier scales x by the real number encoded by
// multiplier and shift.
func MultiplyByQuantizedMultiplier(x, multiplier int32, shift int) int32 {
	left, right := 0, 0
	if shift > 0 {
		left = shift
	} else {
		right = -shift
	}
	return roundingDivideByPOT(saturatingRoundingDoublingHighMul(x*(int32(1)<<left), multiplier), right)
}

// activationRange returns the int8 clamp bounds for act given the output
// quantization.
func activationRange(act model.Activation, scale float32, zeroPoint int32) (int32, int32) {
	lo, hi := int32(math.MinInt8), int32(math.MaxInt8)
	quantize := func(f float32) int32 {
		return zeroPoint + int32(math.Round(float64(f/scale)))
	}
	switch act {
	case model.ActRelu:
		lo = max(lo, quantize(0))
	case model.ActRelu6:
		lo = max(lo, quantize(0))
		hi = min(hi, quantize(6))
	case model.ActReluN1To1:
		lo = max(lo, quantize(-1))
		hi = min(hi, quantize(1))
	}
	return lo, hi
}

func clamp(v, lo, hi int32) int8 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return int8(v)
}

// computePadding returns the output size along one spatial axis and the
// leading padding applied to the input.
func computePadding(in, filter, stride, dilation int, padding model.Padding) (int, int) {
	if stride <= 0 {
		stride = 1
	}
	if dilation <= 0 {
		dilation = 1
	}
	effective := (filter-1)*dilation + 1
	var out int
	if padding == model.PaddingSame {
		out = (in + stride - 1) / stride
	} else {
		out = (in - effective + stride) / stride
	}
	if out < 0 {
		out = 0
	}
	total := (out-1)*stride + effective - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}
