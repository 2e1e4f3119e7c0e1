// Package compiler turns graph descriptions written in a small text DSL into
// the binary model format loaded by the runtime.
//
// Compilation pipeline:
//  1. Parse the DSL into a model.Graph
//  2. Optionally reorder nodes into a stable topological order
//  3. Plan arena offsets for tensors that do not carry one
//  4. Validate structure, execution order and tensor aliasing
//  5. Emit the checksummed binary model (or the gob fallback)
//
// DSL directives, one per line, '#' starts a comment:
//
//	graph <name>
//	arena <bytes> [align=N]
//	tensor <name> <type> <dims> [const] [at=N] [bytes=N] [q=scale:zp,...] [qdim=N]
//	data <tensor> <hex>
//	values <tensor> <v0> <v1> ...
//	input <tensor>...
//	output <tensor>...
//	node <op> in=<t>,<t>,- out=<t> [param=value...]
//	iterate <var> <start> <end> { ... }
//
// Dimensions are written 1x49x40x1. Const tensors are static read-only data
// filled by data and values lines; all other tensors live in the arena.
package compiler

import (
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/model"
)

// CompileOptions configures the compilation process.
type CompileOptions struct {
	// Optimize reorders nodes into a topological order when the source
	// lists a consumer before its producer.
	Optimize bool
	// Validate runs structural, ordering and aliasing checks.
	Validate bool
	// Alignment of planned tensor offsets; 0 uses the graph's own or 8.
	Alignment int
	// Gob emits the gob fallback encoding instead of the binary format.
	Gob bool
}

// DefaultOptions provides sensible compilation defaults.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		Optimize: true,
		Validate: true,
	}
}

// Compile turns a DSL source file into a binary model file.
func Compile(src, out string) error {
	return CompileWithOptions(src, out, DefaultOptions())
}

// CompileWithOptions compiles src into out under opts.
func CompileWithOptions(src, out string, opts CompileOptions) error {
	text, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source: %w", err)
	}
	g, err := Build(text, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	var data []byte
	if opts.Gob {
		data, err = g.SerializeGob()
	} else {
		data, err = g.Serialize()
	}
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	klog.V(1).InfoS("Compiled graph", "src", src, "out", out, "bytes", len(data))
	return nil
}

// Build parses src and runs the planning and validation passes, returning
// a graph ready to serialize or hand to a session.
func Build(src []byte, opts CompileOptions) (*model.Graph, error) {
	g, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	klog.V(2).InfoS("Parsed graph", "name", g.Name, "tensors", len(g.Tensors), "nodes", len(g.Nodes))

	if opts.Optimize {
		if err := g.Optimize(); err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}
	}

	align := opts.Alignment
	if align == 0 {
		align = g.Alignment
	}
	need, err := model.Plan(g, align)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	klog.V(2).InfoS("Planned arena", "name", g.Name, "need", need, "arena", g.ArenaSize, "boundary", g.Boundary())

	if opts.Validate {
		if err := validateGraph(g); err != nil {
			return nil, fmt.Errorf("validation error: %w", err)
		}
	}
	return g, nil
}

func validateGraph(g *model.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := g.CheckOrder(); err != nil {
		return err
	}
	return model.CheckAliasing(g)
}
