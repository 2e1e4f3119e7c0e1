// Package staticgraph executes fixed-topology quantized tensor graphs on
// a caller-provided memory arena.
//
// A model is compiled ahead of time into a tensor table, an ordered node
// list and an arena layout. At run time a Session binds that model to one
// contiguous buffer: intermediate tensors live at planned offsets from the
// bottom, kernel persistent state is carved from the top, and anything that
// does not fit spills to a heap the caller controls. Nothing is allocated
// while a graph is being invoked.
//
// # Architecture Overview
//
//   - core: tensor descriptors, quantization parameters and alignment helpers
//   - model: graph representation, arena planning and serialization
//   - kernels: operator contract, registry and the reference int8 kernels
//   - runtime: arena allocator and the session lifecycle
//   - compiler: DSL parser producing planned, validated graphs
//   - blobs: model retrieval from local files, HTTP and Google Cloud Storage
//
// # Session Lifecycle
//
//	Uninitialized -> Init -> Ready <-> Invoking
//	Ready -> Reset -> Init -> Ready
//
// Init allocates the arena, builds the tensor table and runs every kernel's
// Init then Prepare. Invoke runs the nodes in order. Reset releases kernel
// state, heap overflow buffers and the arena itself.
//
// # Basic Usage
//
//	// Compile a model specification
//	sgc compiler/testdata/keyword.sg keyword.sgm
//
//	// Run it on raw int8 input
//	sgrun keyword.sgm input.bin
//
// Programmatically:
//
//	s, err := runtime.Load("keyword.sgm", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Init(ctx, runtime.HeapAlloc); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Reset(ctx, nil)
//
//	in, _ := s.Input(0)
//	copy(in.Data, features)
//	if err := s.Invoke(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	out, _ := s.Output(0)
//	probs, _ := out.Dequantize()
//
// Sessions are independent: run one per goroutine for concurrent inference,
// optionally sharing arena buffers through runtime.BufferPool.
package staticgraph
