package model

import (
	"fmt"
	"sort"

	"github.com/sbl8/staticgraph/core"
)

// Lifetime is the inclusive range of node indices during which a tensor's
// bytes must stay intact.
type Lifetime struct {
	First int
	Last  int
}

// Overlaps reports whether two lifetimes share a node.
func (l Lifetime) Overlaps(o Lifetime) bool {
	return l.First <= o.Last && o.First <= l.Last
}

// Lifetimes computes the live range of every tensor. Graph inputs are live
// from the first node, graph outputs until past the last one. Static tensors
// and tensors nothing touches get an empty range of {-1, -1}.
func Lifetimes(g *Graph) []Lifetime {
	lt := make([]Lifetime, len(g.Tensors))
	for i := range lt {
		lt[i] = Lifetime{First: -1, Last: -1}
	}
	touch := func(t, node int) {
		if t < 0 || t >= len(lt) || g.Tensors[t].Kind != core.ArenaBacked {
			return
		}
		if lt[t].First < 0 || node < lt[t].First {
			lt[t].First = node
		}
		if node > lt[t].Last {
			lt[t].Last = node
		}
	}
	for _, in := range g.Inputs {
		touch(in, 0)
	}
	for i := range g.Nodes {
		for _, in := range g.Nodes[i].Inputs {
			touch(in, i)
		}
		for _, out := range g.Nodes[i].Outputs {
			touch(out, i)
		}
	}
	for _, out := range g.Outputs {
		touch(out, len(g.Nodes))
	}
	return lt
}

type placement struct {
	offset int
	end    int
	life   Lifetime
}

// Plan assigns arena offsets to every arena-backed tensor whose Offset is
// negative. Tensors that already carry an offset keep it and are treated as
// fixed obstacles. Placement is greedy by size, first fit, with every offset
// aligned to alignment. Plan returns the number of arena bytes the tensors
// need and raises g.ArenaSize to it when the graph declared less.
func Plan(g *Graph, alignment int) (int, error) {
	if alignment <= 0 {
		alignment = core.DefaultAlignment
	}
	if !core.IsPowerOfTwo(alignment) {
		return 0, fmt.Errorf("alignment %d is not a power of two", alignment)
	}
	lifetimes := Lifetimes(g)

	var placed []placement
	var pending []int
	for i := range g.Tensors {
		t := &g.Tensors[i]
		if t.Kind != core.ArenaBacked {
			continue
		}
		if t.Offset >= 0 {
			placed = append(placed, placement{offset: t.Offset, end: t.End(), life: lifetimes[i]})
			continue
		}
		pending = append(pending, i)
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return g.Tensors[pending[a]].Bytes > g.Tensors[pending[b]].Bytes
	})

	for _, idx := range pending {
		t := &g.Tensors[idx]
		life := lifetimes[idx]
		var conflicts []placement
		for _, p := range placed {
			if p.life.Overlaps(life) {
				conflicts = append(conflicts, p)
			}
		}
		sort.Slice(conflicts, func(a, b int) bool { return conflicts[a].offset < conflicts[b].offset })

		offset := 0
		for _, c := range conflicts {
			if offset+t.Bytes <= c.offset {
				break
			}
			if c.end > offset {
				offset = core.AlignUp(c.end, alignment)
			}
		}
		t.Offset = offset
		placed = append(placed, placement{offset: offset, end: t.End(), life: life})
	}

	need := 0
	for _, p := range placed {
		if p.end > need {
			need = p.end
		}
	}
	if g.ArenaSize < need {
		g.ArenaSize = need
	}
	if g.Alignment == 0 {
		g.Alignment = alignment
	}
	return need, nil
}

// CheckAliasing verifies that arena tensors sharing bytes never share a
// live node.
func CheckAliasing(g *Graph) error {
	lifetimes := Lifetimes(g)
	for i := range g.Tensors {
		a := &g.Tensors[i]
		if a.Kind != core.ArenaBacked || a.Offset < 0 || a.Bytes == 0 {
			continue
		}
		for j := i + 1; j < len(g.Tensors); j++ {
			b := &g.Tensors[j]
			if b.Kind != core.ArenaBacked || b.Offset < 0 || b.Bytes == 0 {
				continue
			}
			if a.Offset < b.End() && b.Offset < a.End() && lifetimes[i].Overlaps(lifetimes[j]) {
				return fmt.Errorf("tensors %d (%s) and %d (%s) overlap in bytes and lifetime", i, a.Name, j, b.Name)
			}
		}
	}
	return nil
}
