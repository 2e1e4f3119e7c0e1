package runtime

import (
	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/model"
)

// buildTensors turns the graph's tensor specs into runtime descriptors.
// Arena-backed tensors are claimed at their planned offsets, which raises
// the arena boundary to the end of the highest one; static tensors point at
// the graph's constant data.
func buildTensors(g *model.Graph, arena *Arena) ([]core.Tensor, error) {
	tensors := make([]core.Tensor, len(g.Tensors))
	for i := range g.Tensors {
		spec := &g.Tensors[i]
		t := &tensors[i]
		t.Name = spec.Name
		t.Type = spec.Type
		t.Shape = spec.Shape.Clone()
		t.Bytes = spec.Bytes
		t.Kind = spec.Kind
		t.Quant = spec.Quant
		t.Params = spec.Quant.First()

		if spec.Kind != core.ArenaBacked {
			t.Offset = -1
			t.Data = spec.Data[:spec.Bytes:spec.Bytes]
			continue
		}
		data, err := arena.Claim(spec.Offset, spec.Bytes)
		if err != nil {
			return nil, err
		}
		t.Offset = spec.Offset
		t.Data = data
	}
	return tensors, nil
}
