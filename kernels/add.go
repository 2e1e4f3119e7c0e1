package kernels

import (
	"fmt"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// addLeftShift gives the rescaled operands headroom before summing.
const addLeftShift = 20

// Add is an int8 elementwise add with numpy-style broadcasting.
type Add struct{}

type addState struct {
	params                   *model.AddParams
	in1Mult, in2Mult, outMul int32
	in1Shift, in2Shift       int
	outShift                 int
	actMin, actMax           int32
	// strides of each operand over the output index space, 0 on broadcast axes.
	stride1, stride2 []int
	outShape         []int
	index            []int
}

func (Add) Init(_ Context, params model.Params) (any, error) {
	p, err := paramsAs[*model.AddParams](params)
	if err != nil {
		return nil, err
	}
	return &addState{params: p}, nil
}

func (Add) Prepare(ctx Context, n *Node) error {
	s, err := stateAs[addState](n)
	if err != nil {
		return err
	}
	ins, out, err := requireTensors(ctx, n, 2)
	if err != nil {
		return err
	}
	a, b := ins[0], ins[1]
	for _, t := range []*core.Tensor{a, b, out} {
		if err := requireType(t, core.Int8); err != nil {
			return err
		}
		if !t.IsQuantized() {
			return fmt.Errorf("%w: add needs quantized %s", ErrType, t.Name)
		}
	}
	shape, err := broadcastShape(a.Shape, b.Shape)
	if err != nil {
		return err
	}
	if shape.NumElements() != out.NumElements() {
		return fmt.Errorf("%w: add of %s and %s into %s", ErrShape, a.Shape, b.Shape, out.Shape)
	}
	s.outShape = shape
	s.index = make([]int, len(shape))
	s.stride1 = broadcastStrides(a.Shape, shape)
	s.stride2 = broadcastStrides(b.Shape, shape)

	twiceMax := 2 * float64(max(a.Params.Scale, b.Params.Scale))
	s.in1Mult, s.in1Shift = QuantizeMultiplier(float64(a.Params.Scale) / twiceMax)
	s.in2Mult, s.in2Shift = QuantizeMultiplier(float64(b.Params.Scale) / twiceMax)
	s.outMul, s.outShift = QuantizeMultiplier(twiceMax / (float64(int(1)<<addLeftShift) * float64(out.Params.Scale)))
	s.actMin, s.actMax = activationRange(s.params.Activation, out.Params.Scale, out.Params.ZeroPoint)
	return nil
}

func (Add) Invoke(ctx Context, n *Node) error {
	s, err := stateAs[addState](n)
	if err != nil {
		return err
	}
	a, b, out := n.Input(ctx, 0), n.Input(ctx, 1), n.Output(ctx, 0)
	x, y, dst := a.Int8s(), b.Int8s(), out.Int8s()[:out.NumElements()]
	off1, off2 := -a.Params.ZeroPoint, -b.Params.ZeroPoint
	outOff := out.Params.ZeroPoint

	rank := len(s.outShape)
	index := s.index
	clear(index)
	i1, i2 := 0, 0
	for i := range dst {
		v1 := (int32(x[i1]) + off1) << addLeftShift
		v2 := (int32(y[i2]) + off2) << addLeftShift
		v1 = MultiplyByQuantizedMultiplier(v1, s.in1Mult, s.in1Shift)
		v2 = MultiplyByQuantizedMultiplier(v2, s.in2Mult, s.in2Shift)
		sum := MultiplyByQuantizedMultiplier(v1+v2, s.outMul, s.outShift) + outOff
		dst[i] = clamp(sum, s.actMin, s.actMax)

		// Advance the multi-index, carrying into outer axes.
		for d := rank - 1; d >= 0; d-- {
			index[d]++
			i1 += s.stride1[d]
			i2 += s.stride2[d]
			if index[d] < s.outShape[d] {
				break
			}
			i1 -= s.stride1[d] * index[d]
			i2 -= s.stride2[d] * index[d]
			index[d] = 0
		}
	}
	return nil
}

// broadcastShape aligns shapes from the innermost axis; each pair of
// dimensions must match or one of them must be 1.
func broadcastShape(a, b core.Shape) (core.Shape, error) {
	rank := max(len(a), len(b))
	out := make(core.Shape, rank)
	for i := 1; i <= rank; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db, db == 1:
			out[rank-i] = da
		case da == 1:
			out[rank-i] = db
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %s with %s", ErrShape, a, b)
		}
	}
	return out, nil
}

// broadcastStrides returns the element stride of shape s along each axis of
// the broadcast output shape.
func broadcastStrides(s, out core.Shape) []int {
	strides := make([]int, len(out))
	step := 1
	for i := 1; i <= len(out); i++ {
		if i > len(s) {
			break
		}
		d := s[len(s)-i]
		if d != 1 {
			strides[len(out)-i] = step
		}
		step *= d
	}
	return strides
}
