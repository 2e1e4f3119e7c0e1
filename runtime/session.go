package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/core"
	"github.com/sbl8/staticgraph/kernels"
	"github.com/sbl8/staticgraph/model"
)

// State is a session's lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateReady
	StateInvoking
	StateReset
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateInvoking:
		return "invoking"
	case StateReset:
		return "reset"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// AllocFunc supplies the arena buffer. The embedding application decides
// where the bytes come from. The buffer must start at an address aligned to
// align, or carry enough extra bytes after the padding to still hold size;
// Init rejects anything smaller with ErrAllocation.
type AllocFunc func(size, align int) ([]byte, error)

// FreeFunc gives the arena buffer back to whoever supplied it.
type FreeFunc func(buf []byte)

// HeapAlloc is the default AllocFunc, backed by the Go heap.
func HeapAlloc(size, align int) ([]byte, error) {
	return core.AlignedBytes(size, align), nil
}

// Options configures a session.
type Options struct {
	// Registry resolves operator kinds to kernels; nil means kernels.DefaultRegistry().
	Registry *kernels.Registry
	// Heap serves persistent buffers that do not fit in the arena.
	Heap Heap
	// Alignment of persistent buffers inside the arena.
	Alignment int
	// MaxOverflowBytes caps heap fallback; 0 means unlimited.
	MaxOverflowBytes int
	EnableStats      bool
	// FreeKernelState releases kernel private state on Reset through
	// kernels.Freer.
	FreeKernelState bool
}

// DefaultOptions provides sensible session defaults.
func DefaultOptions() Options {
	return Options{
		Heap:            GoHeap{},
		Alignment:       core.DefaultAlignment,
		EnableStats:     true,
		FreeKernelState: true,
	}
}

// Session executes one graph. It exclusively owns its arena, tensor table,
// node table and bookkeeping; run several sessions for concurrent inference.
type Session struct {
	id      string
	graph   *model.Graph
	opts    Options
	kernels []kernels.Kernel

	mu    sync.Mutex
	state atomic.Int32
	phase Phase
	log   klog.Logger

	arenaBuf []byte
	arena    *Arena
	tensors  []core.Tensor
	nodes    []kernels.Node
	stats    ExecutionStats
}

// NewSession validates graph and binds every node to a kernel. The graph
// must be planned: every arena-backed tensor needs an offset.
func NewSession(graph *model.Graph, opts *Options) (*Session, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}
	o := DefaultOptions()
	if opts != nil {
		o = *opts
		if o.Heap == nil {
			o.Heap = GoHeap{}
		}
		if o.Alignment <= 0 {
			o.Alignment = core.DefaultAlignment
		}
	}
	if o.Registry == nil {
		o.Registry = kernels.DefaultRegistry()
	}
	if graph.Alignment > o.Alignment {
		o.Alignment = graph.Alignment
	}

	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	for i := range graph.Tensors {
		t := &graph.Tensors[i]
		if t.Kind == core.ArenaBacked && t.Offset < 0 {
			return nil, fmt.Errorf("tensor %d (%s) has no arena offset; plan the graph first", i, t.Name)
		}
	}

	bound := make([]kernels.Kernel, len(graph.Nodes))
	for i := range graph.Nodes {
		k, ok := o.Registry.Lookup(graph.Nodes[i].Op)
		if !ok {
			return nil, fmt.Errorf("node %d: no kernel registered for %v", i, graph.Nodes[i].Op)
		}
		bound[i] = k
	}

	return &Session{
		id:      uuid.NewString(),
		graph:   graph,
		opts:    o,
		kernels: bound,
	}, nil
}

// ID returns the session identifier attached to every log line.
func (s *Session) ID() string { return s.id }

// Graph returns the session's underlying graph.
func (s *Session) Graph() *model.Graph { return s.graph }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Init allocates the arena through alloc, builds the tensor table, then
// runs every kernel's Init followed by every kernel's Prepare. The first
// failure aborts initialization; the session must then be Reset before it
// can be initialized again.
func (s *Session) Init(ctx context.Context, alloc AllocFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateUninitialized && st != StateReset {
		return fmt.Errorf("%w: init called in state %v", ErrInvalidState, st)
	}
	if alloc == nil {
		alloc = HeapAlloc
	}
	s.log = klog.FromContext(ctx).WithValues("session", s.id)

	size := s.graph.ArenaSize
	buf, err := alloc(size, s.opts.Alignment)
	if err != nil {
		return fmt.Errorf("%w: arena of %d bytes: %v", ErrAllocation, size, err)
	}
	if len(buf) < size {
		return fmt.Errorf("%w: allocator returned %d bytes, want %d", ErrAllocation, len(buf), size)
	}
	arena := NewArena(buf, s.opts.Heap, ArenaOptions{
		Alignment:        s.opts.Alignment,
		MaxOverflowBytes: s.opts.MaxOverflowBytes,
		Logger:           s.log,
	})
	if arena.Capacity() < size {
		return fmt.Errorf("%w: allocator returned a buffer not aligned to %d, %d usable bytes, want %d", ErrAllocation, s.opts.Alignment, arena.Capacity(), size)
	}
	s.arenaBuf = buf
	s.arena = arena
	s.stats = ExecutionStats{}
	s.setState(StateInitialized)

	s.tensors, err = buildTensors(s.graph, s.arena)
	if err != nil {
		return err
	}
	s.nodes = make([]kernels.Node, len(s.graph.Nodes))
	for i := range s.graph.Nodes {
		spec := &s.graph.Nodes[i]
		s.nodes[i] = kernels.Node{Index: i, Op: spec.Op, Inputs: spec.Inputs, Outputs: spec.Outputs, Params: spec.Params}
	}

	kctx := kernelContext{s: s}
	s.phase = PhaseInit
	for i := range s.nodes {
		n := &s.nodes[i]
		data, err := s.kernels[i].Init(kctx, n.Params)
		if err != nil {
			return s.kernelFailure(n, PhaseInit, err)
		}
		n.Data = data
	}
	s.phase = PhasePrepare
	for i := range s.nodes {
		n := &s.nodes[i]
		if err := s.kernels[i].Prepare(kctx, n); err != nil {
			return s.kernelFailure(n, PhasePrepare, err)
		}
	}
	s.phase = PhaseInvoke

	s.stats.recordArena(s.arena)
	s.setState(StateReady)
	s.log.V(1).Info("Session ready",
		"tensors", len(s.tensors), "nodes", len(s.nodes),
		"arena", s.arena.Capacity(), "boundary", s.arena.Boundary(),
		"overflowCount", s.arena.OverflowCount(), "scratch", s.arena.ScratchCount())
	return nil
}

func (s *Session) kernelFailure(n *kernels.Node, phase Phase, err error) error {
	kerr := &KernelError{Node: n.Index, Op: n.Op, Phase: phase, Err: err}
	s.log.Error(err, "Kernel failed", "node", n.Index, "op", n.Op, "phase", phase)
	return kerr
}

// Invoke runs every node in declaration order. The first kernel failure
// stops the walk and is returned; intermediate tensors are left as they
// are and the session stays usable. ctx is checked between nodes.
func (s *Session) Invoke(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != StateReady {
		return fmt.Errorf("%w: invoke called in state %v", ErrInvalidState, st)
	}
	s.setState(StateInvoking)
	defer s.setState(StateReady)

	start := time.Now()
	err := s.invokeNodes(ctx)
	if s.opts.EnableStats {
		s.stats.recordInvoke(time.Since(start), err)
	}
	return err
}

func (s *Session) invokeNodes(ctx context.Context) error {
	kctx := kernelContext{s: s}
	for i := range s.nodes {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("invoke stopped before node %d: %w", i, err)
		}
		n := &s.nodes[i]
		if err := s.kernels[i].Invoke(kctx, n); err != nil {
			return s.kernelFailure(n, PhaseInvoke, err)
		}
		if s.opts.EnableStats {
			s.stats.recordOp(n.Op)
		}
	}
	return nil
}

// Reset releases kernel private state, every overflow buffer and the
// scratch records, then hands the arena buffer to free. The session can be
// initialized again afterwards. Resetting a session that holds nothing is a
// no-op.
func (s *Session) Reset(ctx context.Context, free FreeFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.State()
	if st == StateUninitialized || st == StateReset {
		return nil
	}

	if s.opts.FreeKernelState {
		for i := range s.nodes {
			if f, ok := s.kernels[i].(kernels.Freer); ok && s.nodes[i].Data != nil {
				f.Free(s.nodes[i].Data)
			}
			s.nodes[i].Data = nil
		}
	}
	overflow := s.arena.OverflowCount()
	s.arena.Release()
	if free != nil && s.arenaBuf != nil {
		free(s.arenaBuf)
	}
	s.arenaBuf = nil
	s.tensors = nil
	s.nodes = nil
	s.stats.recordArena(s.arena)
	s.setState(StateReset)

	klog.FromContext(ctx).WithValues("session", s.id).V(1).Info("Session reset", "releasedOverflow", overflow)
	return nil
}

// Input returns the tensor bound to graph input slot.
func (s *Session) Input(slot int) (*core.Tensor, error) {
	return s.slot(s.graph.Inputs, slot, "input")
}

// Output returns the tensor bound to graph output slot.
func (s *Session) Output(slot int) (*core.Tensor, error) {
	return s.slot(s.graph.Outputs, slot, "output")
}

func (s *Session) slot(slots []int, slot int, kind string) (*core.Tensor, error) {
	if slot < 0 || slot >= len(slots) {
		return nil, fmt.Errorf("%w: %s slot %d, graph has %d", ErrContractViolation, kind, slot, len(slots))
	}
	return s.Tensor(slots[slot])
}

// Tensor returns the descriptor at index in the tensor table.
func (s *Session) Tensor(index int) (*core.Tensor, error) {
	switch s.State() {
	case StateInitialized, StateReady, StateInvoking:
	default:
		return nil, fmt.Errorf("%w: no tensor table in state %v", ErrInvalidState, s.State())
	}
	if index < 0 || index >= len(s.tensors) {
		return nil, fmt.Errorf("%w: tensor index %d, table has %d", ErrContractViolation, index, len(s.tensors))
	}
	return &s.tensors[index], nil
}

// Arena returns the session's arena, or nil before the first Init.
func (s *Session) Arena() *Arena { return s.arena }

// Stats returns a snapshot of the execution statistics.
func (s *Session) Stats() ExecutionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats.clone()
	if s.State() != StateReset {
		out.recordArena(s.arena)
	}
	return out
}
