package kernels

import (
	"fmt"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// FullyConnected multiplies flattened int8 input rows by [units, depth]
// weights and adds an optional int32 bias.
type FullyConnected struct{}

type fcState struct {
	params         *model.FullyConnectedParams
	multiplier     int32
	shift          int
	actMin, actMax int32
	units, depth   int
	// folded holds bias[u] plus the input zero-point correction for unit u.
	folded []int32
}

func (FullyConnected) Init(_ Context, params model.Params) (any, error) {
	p, err := paramsAs[*model.FullyConnectedParams](params)
	if err != nil {
		return nil, err
	}
	return &fcState{params: p}, nil
}

func (FullyConnected) Prepare(ctx Context, n *Node) error {
	s, err := stateAs[fcState](n)
	if err != nil {
		return err
	}
	ins, out, err := requireTensors(ctx, n, 2)
	if err != nil {
		return err
	}
	in, weights := ins[0], ins[1]
	bias := n.Input(ctx, 2)
	for _, t := range []*core.Tensor{in, weights, out} {
		if err := requireType(t, core.Int8); err != nil {
			return err
		}
		if !t.IsQuantized() {
			return fmt.Errorf("%w: fully_connected needs quantized %s", ErrType, t.Name)
		}
	}
	if err := requireRank(weights, 2); err != nil {
		return err
	}
	units, depth := weights.Shape[0], weights.Shape[1]
	if depth == 0 || in.NumElements()%depth != 0 {
		return fmt.Errorf("%w: input %s does not divide into rows of %d", ErrShape, in.Shape, depth)
	}
	batches := in.NumElements() / depth
	if out.NumElements() != batches*units {
		return fmt.Errorf("%w: fully_connected output %s, want %d x %d", ErrShape, out.Shape, batches, units)
	}
	var biases []int32
	if bias != nil {
		if err := requireType(bias, core.Int32); err != nil {
			return err
		}
		if bias.NumElements() != units {
			return fmt.Errorf("%w: bias has %d elements for %d units", ErrShape, bias.NumElements(), units)
		}
		biases = bias.Int32s()
	}

	buf, err := ctx.AllocatePersistentBuffer(4 * units)
	if err != nil {
		return err
	}
	s.folded = int32s(buf)[:units]
	inputOffset := -in.Params.ZeroPoint
	filterOffset := -weights.Params.ZeroPoint
	w := weights.Int8s()
	for u := 0; u < units; u++ {
		var sum int32
		for _, v := range w[u*depth : (u+1)*depth] {
			sum += int32(v) + filterOffset
		}
		s.folded[u] = sum * inputOffset
		if biases != nil {
			s.folded[u] += biases[u]
		}
	}

	effective := float64(in.Params.Scale) * float64(weights.Params.Scale) / float64(out.Params.Scale)
	s.multiplier, s.shift = QuantizeMultiplier(effective)
	s.actMin, s.actMax = activationRange(s.params.Activation, out.Params.Scale, out.Params.ZeroPoint)
	s.units, s.depth = units, depth
	return nil
}

func (FullyConnected) Invoke(ctx Context, n *Node) error {
	s, err := stateAs[fcState](n)
	if err != nil {
		return err
	}
	in, weights, out := n.Input(ctx, 0), n.Input(ctx, 1), n.Output(ctx, 0)
	input, w, output := in.Int8s(), weights.Int8s(), out.Int8s()
	filterOffset := -weights.Params.ZeroPoint
	outputOffset := out.Params.ZeroPoint
	batches := in.NumElements() / s.depth

	for b := 0; b < batches; b++ {
		row := input[b*s.depth : (b+1)*s.depth]
		for u := 0; u < s.units; u++ {
			acc := s.folded[u]
			for d, v := range w[u*s.depth : (u+1)*s.depth] {
				acc += (int32(v) + filterOffset) * int32(row[d])
			}
			acc = MultiplyByQuantizedMultiplier(acc, s.multiplier, s.shift)
			output[b*s.units+u] = clamp(acc+outputOffset, s.actMin, s.actMax)
		}
	}
	return nil
}
