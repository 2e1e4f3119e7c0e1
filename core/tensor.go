// Package core provides the fundamental data model shared by the compiler,
// the kernels and the runtime.
//
// A Tensor is a descriptor for one value in a fixed computation graph: its
// element type, shape, byte size, quantization parameters and where its bytes
// live. Read-only constants (weights, biases, shape operands) are static and
// point at build-time data; intermediates are arena-backed and point into the
// session's arena.
//
// Key components:
//   - Tensor and Shape: descriptors built once at session init
//   - Quantization: affine per-tensor or per-channel parameters
//   - Alignment helpers used by the arena and the planner
//   - Little-endian encoders for shapes and quantization blocks
package core

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"
)

// AllocationKind says where a tensor's bytes live.
type AllocationKind uint8

const (
	// StaticReadOnly tensors reference build-time constant data outside the arena.
	StaticReadOnly AllocationKind = iota
	// ArenaBacked tensors live at an offset inside the session arena and may
	// alias other arena-backed tensors with disjoint lifetimes.
	ArenaBacked
)

func (k AllocationKind) String() string {
	switch k {
	case StaticReadOnly:
		return "static"
	case ArenaBacked:
		return "arena"
	default:
		return fmt.Sprintf("AllocationKind(%d)", uint8(k))
	}
}

// Shape is an ordered list of non-negative dimension sizes.
type Shape []int

// NumElements returns the product of the dimensions. A rank-0 shape holds one element.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate checks that every dimension is non-negative.
func (s Shape) Validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
	}
	return nil
}

// Equal reports whether two shapes have the same rank and dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Dim returns dimension i, counting from the end when i is negative.
func (s Shape) Dim(i int) int {
	if i < 0 {
		i += len(s)
	}
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// Clone returns an independent copy of s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// Tensor describes one tensor in the graph. Descriptors are built once per
// session and never resized or reshaped afterwards.
type Tensor struct {
	Name  string
	Type  ElementType
	Shape Shape
	Bytes int
	Kind  AllocationKind

	// Offset is the byte offset inside the arena for arena-backed tensors,
	// and -1 for static ones.
	Offset int
	Data   []byte

	// Quant holds the full affine parameters, nil when unquantized.
	Quant *Quantization
	// Params is the first scale/zero-point pair of Quant, the fast path for
	// per-tensor kernels.
	Params QuantParams
}

// ErrTypeMismatch is returned by typed accessors when the element type differs.
var ErrTypeMismatch = errors.New("tensor element type mismatch")

// NumElements returns the element count implied by the shape.
func (t *Tensor) NumElements() int {
	return t.Shape.NumElements()
}

// IsQuantized reports whether the tensor carries affine quantization.
func (t *Tensor) IsQuantized() bool {
	return t.Quant != nil && len(t.Quant.Scale) > 0
}

// Int8s views the tensor data as []int8, or returns nil for other types.
func (t *Tensor) Int8s() []int8 {
	if t.Type != Int8 || len(t.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int8)(unsafe.Pointer(&t.Data[0])), len(t.Data))
}

// Int16s views the tensor data as []int16.
func (t *Tensor) Int16s() []int16 {
	if t.Type != Int16 || len(t.Data) < 2 {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&t.Data[0])), len(t.Data)/2)
}

// Int32s views the tensor data as []int32.
func (t *Tensor) Int32s() []int32 {
	if t.Type != Int32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

// Float32s views the tensor data as []float32.
func (t *Tensor) Float32s() []float32 {
	if t.Type != Float32 || len(t.Data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.Data[0])), len(t.Data)/4)
}

// Dequantize converts the tensor contents to real values using the
// per-tensor parameters. Unquantized float tensors are copied as is.
func (t *Tensor) Dequantize() ([]float32, error) {
	n := t.NumElements()
	if len(t.Data) < n*t.Type.Size() {
		return nil, fmt.Errorf("tensor %q holds %d bytes, shape %s needs %d", t.Name, len(t.Data), t.Shape, n*t.Type.Size())
	}
	out := make([]float32, n)
	scale, zp := t.Params.Scale, t.Params.ZeroPoint
	if !t.IsQuantized() {
		scale, zp = 1, 0
	}
	switch t.Type {
	case Int8:
		for i, v := range t.Int8s()[:n] {
			out[i] = scale * float32(int32(v)-zp)
		}
	case UInt8:
		for i, v := range t.Data[:n] {
			out[i] = scale * float32(int32(v)-zp)
		}
	case Int16:
		for i, v := range t.Int16s()[:n] {
			out[i] = scale * float32(int32(v)-zp)
		}
	case Int32:
		for i, v := range t.Int32s()[:n] {
			out[i] = scale * float32(v-zp)
		}
	case Float32:
		copy(out, t.Float32s())
	default:
		return nil, fmt.Errorf("%w: cannot dequantize %s", ErrTypeMismatch, t.Type)
	}
	return out, nil
}

// Validate checks the descriptor's internal consistency: known type,
// non-negative dims, byte size covering the shape and quantization invariants.
func (t *Tensor) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("tensor %q: invalid element type %d", t.Name, t.Type)
	}
	if err := t.Shape.Validate(); err != nil {
		return fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	if need := t.NumElements() * t.Type.Size(); t.Bytes < need {
		return fmt.Errorf("tensor %q: byte size %d smaller than shape %s of %s (%d)", t.Name, t.Bytes, t.Shape, t.Type, need)
	}
	if t.Quant != nil {
		if err := t.Quant.Validate(); err != nil {
			return fmt.Errorf("tensor %q: %w", t.Name, err)
		}
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%s (%d bytes, %s)", t.Name, t.Type, t.Shape, t.Bytes, t.Kind)
}
