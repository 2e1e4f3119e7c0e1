// Package kernels provides the operator implementations executed by the runtime.
//
// Each operator kind has one Kernel. A kernel is driven through three phases:
// Init receives the node's parameters and returns private per-node state,
// Prepare validates shapes and claims persistent or scratch memory through
// the Context, and Invoke computes the node's outputs from its inputs. Kernels
// never allocate during Invoke; everything they need at run time is set up by
// Prepare.
//
// Available operators:
//   - reshape: shape change, copying bytes only when buffers differ
//   - conv2d: int8 per-channel convolution over NHWC input
//   - add: int8 elementwise add with broadcasting
//   - max_pool2d: int8 max pooling
//   - fully_connected: int8 dense layer
//   - softmax: int8 softmax over the innermost dimension
//
// All kernels are registered in DefaultRegistry for runtime dispatch by
// model.OpKind.
package kernels

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// Context is the per-session service interface handed to kernels.
type Context interface {
	// AllocatePersistentBuffer returns size bytes that stay valid until
	// the session is reset.
	AllocatePersistentBuffer(size int) ([]byte, error)
	// RequestScratchBuffer reserves size bytes and returns a stable index
	// for later retrieval. Only valid during Prepare.
	RequestScratchBuffer(size int) (int, error)
	// GetScratchBuffer returns the buffer registered under index.
	GetScratchBuffer(index int) ([]byte, error)
	// Tensor returns the descriptor at index, or nil when out of range.
	Tensor(index int) *core.Tensor
}

// Node is the runtime view of one graph node.
type Node struct {
	Index   int
	Op      model.OpKind
	Inputs  []int
	Outputs []int
	Params  model.Params
	// Data is the value returned by the kernel's Init.
	Data any
}

// Input returns the i-th input descriptor, or nil when absent.
func (n *Node) Input(ctx Context, i int) *core.Tensor {
	if i >= len(n.Inputs) || n.Inputs[i] == model.NoTensor {
		return nil
	}
	return ctx.Tensor(n.Inputs[i])
}

// Output returns the i-th output descriptor.
func (n *Node) Output(ctx Context, i int) *core.Tensor {
	if i >= len(n.Outputs) {
		return nil
	}
	return ctx.Tensor(n.Outputs[i])
}

// Kernel implements one operator.
type Kernel interface {
	Init(ctx Context, params model.Params) (any, error)
	Prepare(ctx Context, n *Node) error
	Invoke(ctx Context, n *Node) error
}

// Freer is implemented by kernels whose Init state holds resources that
// must be released when the session resets.
type Freer interface {
	Free(data any)
}

var (
	ErrShape   = errors.New("shape mismatch")
	ErrType    = errors.New("unsupported tensor type")
	ErrMissing = errors.New("missing tensor")
)

func paramsAs[P model.Params](params model.Params) (P, error) {
	p, ok := params.(P)
	if !ok {
		var zero P
		return zero, fmt.Errorf("unexpected parameters %T, want %T", params, zero)
	}
	return p, nil
}

func stateAs[S any](n *Node) (*S, error) {
	s, ok := n.Data.(*S)
	if !ok || s == nil {
		return nil, fmt.Errorf("node %d (%v): kernel state not initialized", n.Index, n.Op)
	}
	return s, nil
}

// requireTensors fetches the first nIn inputs and the first output, failing
// when any required one is absent.
func requireTensors(ctx Context, n *Node, nIn int) ([]*core.Tensor, *core.Tensor, error) {
	ins := make([]*core.Tensor, nIn)
	for i := range ins {
		ins[i] = n.Input(ctx, i)
		if ins[i] == nil {
			return nil, nil, fmt.Errorf("%w: input %d of %v", ErrMissing, i, n.Op)
		}
	}
	out := n.Output(ctx, 0)
	if out == nil {
		return nil, nil, fmt.Errorf("%w: output of %v", ErrMissing, n.Op)
	}
	return ins, out, nil
}

func requireType(t *core.Tensor, want core.ElementType) error {
	if t.Type != want {
		return fmt.Errorf("%w: %s is %s, want %s", ErrType, t.Name, t.Type, want)
	}
	return nil
}

func requireRank(t *core.Tensor, rank int) error {
	if len(t.Shape) != rank {
		return fmt.Errorf("%w: %s has rank %d, want %d", ErrShape, t.Name, len(t.Shape), rank)
	}
	return nil
}

// int32s views a persistent buffer as 32-bit words. The runtime aligns
// persistent buffers to at least four bytes.
func int32s(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
