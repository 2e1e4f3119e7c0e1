package kernels

import (
	"fmt"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// Conv2D is an int8 convolution over NHWC input with OHWI filters,
// per-channel filter quantization and an optional int32 bias.
type Conv2D struct{}

type convState struct {
	params     *model.ConvParams
	padW, padH int
	multiplier []int32
	shift      []int32
	actMin     int32
	actMax     int32
	patchLen   int
	scratch    int
}

func (Conv2D) Init(_ Context, params model.Params) (any, error) {
	p, err := paramsAs[*model.ConvParams](params)
	if err != nil {
		return nil, err
	}
	return &convState{params: p, scratch: -1}, nil
}

func (Conv2D) Prepare(ctx Context, n *Node) error {
	s, err := stateAs[convState](n)
	if err != nil {
		return err
	}
	ins, out, err := requireTensors(ctx, n, 2)
	if err != nil {
		return err
	}
	in, filter := ins[0], ins[1]
	bias := n.Input(ctx, 2)
	for _, t := range []*core.Tensor{in, filter, out} {
		if err := requireType(t, core.Int8); err != nil {
			return err
		}
		if err := requireRank(t, 4); err != nil {
			return err
		}
	}
	if !in.IsQuantized() || !filter.IsQuantized() || !out.IsQuantized() {
		return fmt.Errorf("%w: conv2d needs quantized input, filter and output", ErrType)
	}

	batches, inH, inW, inC := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	outC, fH, fW := filter.Shape[0], filter.Shape[1], filter.Shape[2]
	if filter.Shape[3] != inC {
		return fmt.Errorf("%w: filter depth %d, input depth %d", ErrShape, filter.Shape[3], inC)
	}
	outH, padH := computePadding(inH, fH, s.params.StrideH, s.params.DilationH, s.params.Padding)
	outW, padW := computePadding(inW, fW, s.params.StrideW, s.params.DilationW, s.params.Padding)
	want := core.Shape{batches, outH, outW, outC}
	if !out.Shape.Equal(want) {
		return fmt.Errorf("%w: conv2d output %s, want %s", ErrShape, out.Shape, want)
	}
	if bias != nil {
		if err := requireType(bias, core.Int32); err != nil {
			return err
		}
		if bias.NumElements() != outC {
			return fmt.Errorf("%w: bias has %d elements for %d channels", ErrShape, bias.NumElements(), outC)
		}
	}
	if scales := len(filter.Quant.Scale); scales != 1 && scales != outC {
		return fmt.Errorf("%w: filter has %d scales for %d channels", ErrShape, scales, outC)
	}

	buf, err := ctx.AllocatePersistentBuffer(8 * outC)
	if err != nil {
		return err
	}
	words := int32s(buf)
	s.multiplier, s.shift = words[:outC], words[outC:2*outC]
	for c := 0; c < outC; c++ {
		effective := float64(in.Params.Scale) * float64(filter.Quant.Channel(c).Scale) / float64(out.Params.Scale)
		m, sh := QuantizeMultiplier(effective)
		s.multiplier[c], s.shift[c] = m, int32(sh)
	}
	s.padW, s.padH = padW, padH
	s.actMin, s.actMax = activationRange(s.params.Activation, out.Params.Scale, out.Params.ZeroPoint)

	s.patchLen = fH * fW * inC
	s.scratch, err = ctx.RequestScratchBuffer(4 * padToLanes(s.patchLen))
	return err
}

func (Conv2D) Invoke(ctx Context, n *Node) error {
	s, err := stateAs[convState](n)
	if err != nil {
		return err
	}
	in, filter, bias, out := n.Input(ctx, 0), n.Input(ctx, 1), n.Input(ctx, 2), n.Output(ctx, 0)
	raw, err := ctx.GetScratchBuffer(s.scratch)
	if err != nil {
		return err
	}
	patch := int32s(raw)[:s.patchLen]

	input, weights, output := in.Int8s(), filter.Int8s(), out.Int8s()
	var biases []int32
	if bias != nil {
		biases = bias.Int32s()
	}
	inputOffset := -in.Params.ZeroPoint
	outputOffset := out.Params.ZeroPoint

	batches, inH, inW, inC := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	outC, fH, fW := filter.Shape[0], filter.Shape[1], filter.Shape[2]
	outH, outW := out.Shape[1], out.Shape[2]
	p := s.params
	dilH, dilW := max(p.DilationH, 1), max(p.DilationW, 1)
	strideH, strideW := max(p.StrideH, 1), max(p.StrideW, 1)

	for b := 0; b < batches; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				// Gather the receptive field; padded positions contribute zero.
				k := 0
				for fy := 0; fy < fH; fy++ {
					iy := oy*strideH - s.padH + fy*dilH
					for fx := 0; fx < fW; fx++ {
						ix := ox*strideW - s.padW + fx*dilW
						inside := iy >= 0 && iy < inH && ix >= 0 && ix < inW
						base := ((b*inH+iy)*inW + ix) * inC
						for ic := 0; ic < inC; ic++ {
							if inside {
								patch[k] = int32(input[base+ic]) + inputOffset
							} else {
								patch[k] = 0
							}
							k++
						}
					}
				}

				dst := ((b*outH+oy)*outW + ox) * outC
				for oc := 0; oc < outC; oc++ {
					row := weights[oc*s.patchLen : (oc+1)*s.patchLen]
					var acc int32
					for i, w := range row {
						acc += int32(w) * patch[i]
					}
					if biases != nil {
						acc += biases[oc]
					}
					acc = MultiplyByQuantizedMultiplier(acc, s.multiplier[oc], int(s.shift[oc]))
					output[dst+oc] = clamp(acc+outputOffset, s.actMin, s.actMax)
				}
			}
		}
	}
	return nil
}
