package kernels

import (
	"fmt"
	"unsafe"

	"github.com/sbl8/staticgraph/model"
)

// Reshape changes a tensor's shape without touching its values. The target
// shape is fixed by the output descriptor; the optional shape operand and
// params are only checked against it.
type Reshape struct{}

func (Reshape) Init(_ Context, params model.Params) (any, error) {
	if _, err := paramsAs[*model.ReshapeParams](params); err != nil {
		return nil, err
	}
	return nil, nil
}

func (Reshape) Prepare(ctx Context, n *Node) error {
	ins, out, err := requireTensors(ctx, n, 1)
	if err != nil {
		return err
	}
	in := ins[0]
	if in.Type != out.Type {
		return fmt.Errorf("%w: reshape from %s to %s", ErrType, in.Type, out.Type)
	}
	if in.NumElements() != out.NumElements() {
		return fmt.Errorf("%w: reshape %s%s to %s%s changes element count", ErrShape, in.Name, in.Shape, out.Name, out.Shape)
	}
	if p, ok := n.Params.(*model.ReshapeParams); ok && len(p.Shape) > 0 {
		if err := checkTargetShape(p.Shape, out.NumElements()); err != nil {
			return err
		}
	}
	if shape := n.Input(ctx, 1); shape != nil {
		if err := checkTargetShape(dims(shape.Int32s()), out.NumElements()); err != nil {
			return err
		}
	}
	return nil
}

func (Reshape) Invoke(ctx Context, n *Node) error {
	in, out := n.Input(ctx, 0), n.Output(ctx, 0)
	size := out.NumElements() * out.Type.Size()
	if len(in.Data) < size || len(out.Data) < size {
		return fmt.Errorf("%w: reshape buffers shorter than %d bytes", ErrShape, size)
	}
	if size == 0 || unsafe.SliceData(in.Data) == unsafe.SliceData(out.Data) {
		return nil
	}
	copy(out.Data[:size], in.Data[:size])
	return nil
}

func dims(v []int32) []int {
	out := make([]int, len(v))
	for i, d := range v {
		out[i] = int(d)
	}
	return out
}

// checkTargetShape accepts at most one -1 wildcard dimension.
func checkTargetShape(shape []int, elements int) error {
	known, wildcard := 1, false
	for _, d := range shape {
		switch {
		case d == -1 && !wildcard:
			wildcard = true
		case d < 0:
			return fmt.Errorf("%w: invalid target dimension %d", ErrShape, d)
		default:
			known *= d
		}
	}
	if wildcard {
		if known == 0 || elements%known != 0 {
			return fmt.Errorf("%w: cannot infer -1 in %v for %d elements", ErrShape, shape, elements)
		}
		return nil
	}
	if known != elements {
		return fmt.Errorf("%w: target shape %v holds %d elements, want %d", ErrShape, shape, known, elements)
	}
	return nil
}
