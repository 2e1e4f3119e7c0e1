package kernels

import (
	"fmt"
	"math"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// MaxPool2D takes the maximum over each filter window of an int8 NHWC input.
type MaxPool2D struct{}

type poolState struct {
	params         *model.PoolParams
	padW, padH     int
	actMin, actMax int32
}

func (MaxPool2D) Init(_ Context, params model.Params) (any, error) {
	p, err := paramsAs[*model.PoolParams](params)
	if err != nil {
		return nil, err
	}
	if p.FilterW <= 0 || p.FilterH <= 0 {
		return nil, fmt.Errorf("%w: pool filter %dx%d", ErrShape, p.FilterH, p.FilterW)
	}
	return &poolState{params: p}, nil
}

func (MaxPool2D) Prepare(ctx Context, n *Node) error {
	s, err := stateAs[poolState](n)
	if err != nil {
		return err
	}
	ins, out, err := requireTensors(ctx, n, 1)
	if err != nil {
		return err
	}
	in := ins[0]
	for _, t := range []*core.Tensor{in, out} {
		if err := requireType(t, core.Int8); err != nil {
			return err
		}
		if err := requireRank(t, 4); err != nil {
			return err
		}
	}
	p := s.params
	outH, padH := computePadding(in.Shape[1], p.FilterH, p.StrideH, 1, p.Padding)
	outW, padW := computePadding(in.Shape[2], p.FilterW, p.StrideW, 1, p.Padding)
	want := core.Shape{in.Shape[0], outH, outW, in.Shape[3]}
	if !out.Shape.Equal(want) {
		return fmt.Errorf("%w: max_pool2d output %s, want %s", ErrShape, out.Shape, want)
	}
	s.padW, s.padH = padW, padH
	s.actMin, s.actMax = activationRange(p.Activation, out.Params.Scale, out.Params.ZeroPoint)
	return nil
}

func (MaxPool2D) Invoke(ctx Context, n *Node) error {
	s, err := stateAs[poolState](n)
	if err != nil {
		return err
	}
	in, out := n.Input(ctx, 0), n.Output(ctx, 0)
	input, output := in.Int8s(), out.Int8s()
	batches, inH, inW, depth := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	outH, outW := out.Shape[1], out.Shape[2]
	p := s.params
	strideH, strideW := max(p.StrideH, 1), max(p.StrideW, 1)

	for b := 0; b < batches; b++ {
		for oy := 0; oy < outH; oy++ {
			y0 := oy*strideH - s.padH
			fy0, fy1 := max(0, -y0), min(p.FilterH, inH-y0)
			for ox := 0; ox < outW; ox++ {
				x0 := ox*strideW - s.padW
				fx0, fx1 := max(0, -x0), min(p.FilterW, inW-x0)
				for c := 0; c < depth; c++ {
					best := int32(math.MinInt8)
					for fy := fy0; fy < fy1; fy++ {
						for fx := fx0; fx < fx1; fx++ {
							v := int32(input[((b*inH+y0+fy)*inW+x0+fx)*depth+c])
							if v > best {
								best = v
							}
						}
					}
					output[((b*outH+oy)*outW+ox)*depth+c] = clamp(best, s.actMin, s.actMax)
				}
			}
		}
	}
	return nil
}
