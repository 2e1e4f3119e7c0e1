package core

import (
	"errors"
	"fmt"
)

// QuantParams is a single scale/zero-point pair.
type QuantParams struct {
	Scale     float32
	ZeroPoint int32
}

// Quantization holds affine parameters: real = scale * (q - zero_point).
// One pair per channel along Dimension, or a single pair per tensor.
type Quantization struct {
	Scale     []float32
	ZeroPoint []int32
	Dimension int
}

// Validate enforces that scales and zero points come in pairs.
func (q *Quantization) Validate() error {
	if q == nil {
		return nil
	}
	if len(q.Scale) != len(q.ZeroPoint) {
		return fmt.Errorf("quantization has %d scales but %d zero points", len(q.Scale), len(q.ZeroPoint))
	}
	if len(q.Scale) == 0 {
		return errors.New("quantization has no scale values")
	}
	if q.Dimension < 0 {
		return fmt.Errorf("quantized dimension %d is negative", q.Dimension)
	}
	return nil
}

// PerChannel reports whether there is more than one scale/zero-point pair.
func (q *Quantization) PerChannel() bool {
	return q != nil && len(q.Scale) > 1
}

// First returns the first pair, the fast path used by per-tensor kernels.
func (q *Quantization) First() QuantParams {
	if q == nil || len(q.Scale) == 0 {
		return QuantParams{}
	}
	return QuantParams{Scale: q.Scale[0], ZeroPoint: q.ZeroPoint[0]}
}

// Channel returns the pair for channel c, or the first pair for per-tensor quantization.
func (q *Quantization) Channel(c int) QuantParams {
	if q == nil || len(q.Scale) == 0 {
		return QuantParams{}
	}
	if c < 0 || c >= len(q.Scale) {
		c = 0
	}
	return QuantParams{Scale: q.Scale[c], ZeroPoint: q.ZeroPoint[c]}
}

// Clone returns a deep copy.
func (q *Quantization) Clone() *Quantization {
	if q == nil {
		return nil
	}
	out := &Quantization{
		Scale:     make([]float32, len(q.Scale)),
		ZeroPoint: make([]int32, len(q.ZeroPoint)),
		Dimension: q.Dimension,
	}
	copy(out.Scale, q.Scale)
	copy(out.ZeroPoint, q.ZeroPoint)
	return out
}
