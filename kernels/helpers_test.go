package kernels

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// fakeContext backs kernels with plain Go allocations.
type fakeContext struct {
	tensors    []*core.Tensor
	persistent int
	scratch    [][]byte
}

func (c *fakeContext) AllocatePersistentBuffer(size int) ([]byte, error) {
	c.persistent += size
	return core.AlignedBytes(size, 8), nil
}

func (c *fakeContext) RequestScratchBuffer(size int) (int, error) {
	c.scratch = append(c.scratch, core.AlignedBytes(size, 8))
	return len(c.scratch) - 1, nil
}

func (c *fakeContext) GetScratchBuffer(index int) ([]byte, error) {
	if index < 0 || index >= len(c.scratch) {
		return nil, fmt.Errorf("scratch index %d out of range", index)
	}
	return c.scratch[index], nil
}

func (c *fakeContext) Tensor(index int) *core.Tensor {
	if index < 0 || index >= len(c.tensors) {
		return nil
	}
	return c.tensors[index]
}

func quantized(name string, shape core.Shape, scale float32, zp int32, values []int8) *core.Tensor {
	n := shape.NumElements()
	data := core.AlignedBytes(n, 8)
	for i, v := range values {
		data[i] = byte(v)
	}
	q := &core.Quantization{Scale: []float32{scale}, ZeroPoint: []int32{zp}}
	return &core.Tensor{Name: name, Type: core.Int8, Shape: shape, Bytes: n, Kind: core.ArenaBacked, Data: data, Quant: q, Params: q.First()}
}

func int32Tensor(name string, values []int32) *core.Tensor {
	data := core.AlignedBytes(4*len(values), 8)
	copy(unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), len(values)), values)
	return &core.Tensor{Name: name, Type: core.Int32, Shape: core.Shape{len(values)}, Bytes: len(data), Kind: core.StaticReadOnly, Offset: -1, Data: data}
}

// run drives a kernel through Init, Prepare and Invoke over ctx.tensors,
// treating the last tensor as the single output.
func run(t testing.TB, k Kernel, params model.Params, ctx *fakeContext, inputs ...int) (*Node, error) {
	t.Helper()
	op := params.Kind()
	data, err := k.Init(ctx, params)
	if err != nil {
		return nil, err
	}
	n := &Node{Op: op, Inputs: inputs, Outputs: []int{len(ctx.tensors) - 1}, Params: params, Data: data}
	if err := k.Prepare(ctx, n); err != nil {
		return n, err
	}
	return n, k.Invoke(ctx, n)
}

func checkInt8s(t *testing.T, got *core.Tensor, want []int8) {
	t.Helper()
	values := got.Int8s()
	for i, w := range want {
		if values[i] != w {
			t.Errorf("%s = %v, want %v", got.Name, values[:len(want)], want)
			return
		}
	}
}
