package kernels

import (
	"fmt"
	"math"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// lutSize covers every int8 difference x - max in [-255, 0].
const lutSize = 256

// Softmax normalizes int8 logits over the innermost dimension using an
// exponent table built once in Prepare.
type Softmax struct{}

type softmaxState struct {
	params *model.SoftmaxParams
	lut    []float32
	depth  int
}

func (Softmax) Init(_ Context, params model.Params) (any, error) {
	p, err := paramsAs[*model.SoftmaxParams](params)
	if err != nil {
		return nil, err
	}
	return &softmaxState{params: p}, nil
}

func (Softmax) Prepare(ctx Context, n *Node) error {
	s, err := stateAs[softmaxState](n)
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
		if !t.IsQuantized() {
			return fmt.Errorf("%w: softmax needs quantized %s", ErrType, t.Name)
		}
	}
	if !in.Shape.Equal(out.Shape) || len(in.Shape) == 0 {
		return fmt.Errorf("%w: softmax %s into %s", ErrShape, in.Shape, out.Shape)
	}

	buf, err := ctx.AllocatePersistentBuffer(4 * lutSize)
	if err != nil {
		return err
	}
	s.lut = float32s(buf)[:lutSize]
	beta := s.params.Beta
	if beta == 0 {
		beta = 1
	}
	scale := float64(beta) * float64(in.Params.Scale)
	for i := range s.lut {
		s.lut[i] = float32(math.Exp(scale * float64(i-(lutSize-1))))
	}
	s.depth = in.Shape.Dim(-1)
	return nil
}

func (Softmax) Invoke(ctx Context, n *Node) error {
	s, err := stateAs[softmaxState](n)
	if err != nil {
		return err
	}
	in, out := n.Input(ctx, 0), n.Output(ctx, 0)
	input, output := in.Int8s(), out.Int8s()
	if s.depth == 0 {
		return nil
	}
	rows := in.NumElements() / s.depth
	invScale := 1 / float64(out.Params.Scale)
	zp := float64(out.Params.ZeroPoint)

	for r := 0; r < rows; r++ {
		row := input[r*s.depth : (r+1)*s.depth]
		peak := int8(math.MinInt8)
		for _, v := range row {
			peak = max(peak, v)
		}
		var sum float32
		for _, v := range row {
			sum += s.lut[lutSize-1+int(v)-int(peak)]
		}
		dst := output[r*s.depth : (r+1)*s.depth]
		for i, v := range row {
			p := float64(s.lut[lutSize-1+int(v)-int(peak)] / sum)
			q := int32(math.Round(p*invScale + zp))
			dst[i] = clamp(q, math.MinInt8, math.MaxInt8)
		}
	}
	return nil
}
