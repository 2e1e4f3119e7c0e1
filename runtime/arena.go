package runtime

import (
	"fmt"
	"unsafe"

	"k8s.io/klog/v2"

	"github.com/sbl8/staticgraph/core"
)

// minAlignment keeps persistent buffers viewable as 32-bit words.
const minAlignment = 4

// Heap is the fallback allocator used once the arena is exhausted.
type Heap interface {
	Alloc(size, align int) ([]byte, error)
	Free(b []byte)
}

// GoHeap allocates from the Go heap. Free is a no-op; the collector
// reclaims buffers once the arena drops its references.
type GoHeap struct{}

func (GoHeap) Alloc(size, align int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	return core.AlignedBytes(size, align), nil
}

func (GoHeap) Free([]byte) {}

// ArenaOptions configures an Arena.
type ArenaOptions struct {
	// Alignment of persistent buffers; raised to 4 when smaller.
	Alignment int
	// MaxOverflowBytes caps heap fallback; 0 means unlimited.
	MaxOverflowBytes int
	Logger           klog.Logger
}

// Arena manages a single caller-provided buffer. Tensor data is claimed at
// fixed offsets from the bottom; persistent and scratch buffers are bumped
// down from the top. The two never meet: a request that would cross the
// tensor boundary is served from the heap instead and recorded for release.
//
// An Arena is owned by one session and is not safe for concurrent use.
type Arena struct {
	buf         []byte
	heap        Heap
	align       int
	maxOverflow int
	log         klog.Logger

	boundary int // end of the highest claimed tensor
	current  int // bump pointer, moves down
	lowest   int // lowest value current has reached

	overflow      [][]byte
	overflowBytes int
	scratch       [][]byte
}

// NewArena wraps buf. The usable region starts at the first address of buf
// aligned to the arena alignment, so an unaligned buf loses its leading
// padding bytes of capacity.
func NewArena(buf []byte, heap Heap, opts ArenaOptions) *Arena {
	align := opts.Alignment
	switch {
	case align <= 0 || !core.IsPowerOfTwo(align):
		align = core.DefaultAlignment
	case align < minAlignment:
		align = minAlignment
	}
	if heap == nil {
		heap = GoHeap{}
	}
	if len(buf) > 0 {
		addr := int(uintptr(unsafe.Pointer(&buf[0])))
		pad := core.AlignUp(addr, align) - addr
		if pad > len(buf) {
			pad = len(buf)
		}
		buf = buf[pad:len(buf):len(buf)]
	}
	return &Arena{
		buf:         buf,
		heap:        heap,
		align:       align,
		maxOverflow: opts.MaxOverflowBytes,
		log:         opts.Logger,
		current:     len(buf),
		lowest:      len(buf),
	}
}

// Claim maps [offset, offset+size) to tensor data and raises the boundary.
// Claims must precede persistent allocations that would overlap them.
func (a *Arena) Claim(offset, size int) ([]byte, error) {
	if offset < 0 || size < 0 || offset+size > len(a.buf) {
		return nil, fmt.Errorf("%w: tensor range [%d,%d) outside arena of %d bytes", ErrAllocation, offset, offset+size, len(a.buf))
	}
	end := offset + size
	if end > a.current {
		return nil, fmt.Errorf("%w: tensor range [%d,%d) overlaps persistent buffers from %d", ErrAllocation, offset, end, a.current)
	}
	if end > a.boundary {
		a.boundary = end
	}
	return a.buf[offset:end:end], nil
}

// AllocatePersistent returns size bytes valid until Release. The buffer is
// carved from the top of the arena when it fits above the boundary and
// from the heap otherwise.
func (a *Arena) AllocatePersistent(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative buffer size %d", ErrContractViolation, size)
	}
	if a.current-size >= a.boundary {
		if start := core.AlignDown(a.current-size, a.align); start >= a.boundary {
			a.current = start
			a.lowest = min(a.lowest, start)
			return a.buf[start : start+size : start+size], nil
		}
	}

	if a.maxOverflow > 0 && a.overflowBytes+size > a.maxOverflow {
		return nil, fmt.Errorf("%w: %d bytes would exceed overflow limit %d (%d in use)", ErrAllocation, size, a.maxOverflow, a.overflowBytes)
	}
	b, err := a.heap.Alloc(size, a.align)
	if err != nil {
		return nil, fmt.Errorf("%w: heap fallback for %d bytes: %v", ErrAllocation, size, err)
	}
	if len(b) < size {
		return nil, fmt.Errorf("%w: heap returned %d bytes, want %d", ErrAllocation, len(b), size)
	}
	a.overflow = append(a.overflow, b)
	a.overflowBytes += size
	a.log.V(1).Info("Arena exhausted, allocated from heap", "bytes", size, "boundary", a.boundary, "current", a.current, "overflowCount", len(a.overflow))
	return b[:size:size], nil
}

// RequestScratch allocates a persistent buffer and records it under the
// next index.
func (a *Arena) RequestScratch(size int) (int, error) {
	b, err := a.AllocatePersistent(size)
	if err != nil {
		return -1, err
	}
	a.scratch = append(a.scratch, b)
	return len(a.scratch) - 1, nil
}

// Scratch returns the buffer recorded under index.
func (a *Arena) Scratch(index int) ([]byte, error) {
	if index < 0 || index >= len(a.scratch) {
		return nil, fmt.Errorf("%w: scratch index %d, %d recorded", ErrContractViolation, index, len(a.scratch))
	}
	return a.scratch[index], nil
}

// Release returns every overflow buffer to the heap and clears the scratch
// records. The arena buffer itself belongs to the caller; afterwards the
// arena is empty and every accessor reports zero.
func (a *Arena) Release() {
	for _, b := range a.overflow {
		a.heap.Free(b)
	}
	a.overflow = nil
	a.overflowBytes = 0
	a.scratch = nil
	a.buf = nil
	a.boundary = 0
	a.current = 0
	a.lowest = 0
}

// Capacity is the usable arena size in bytes.
func (a *Arena) Capacity() int { return len(a.buf) }

// Boundary is the low watermark: the end of the highest tensor claim.
func (a *Arena) Boundary() int { return a.boundary }

// Current is the bump pointer, the start of the lowest persistent buffer.
func (a *Arena) Current() int { return a.current }

// OverflowCount is the number of live heap fallback buffers.
func (a *Arena) OverflowCount() int { return len(a.overflow) }

// OverflowBytes is the total size of live heap fallback buffers.
func (a *Arena) OverflowBytes() int { return a.overflowBytes }

// ScratchCount is the number of recorded scratch buffers.
func (a *Arena) ScratchCount() int { return len(a.scratch) }

// Peak is the number of arena bytes in use at the high-water mark: tensor
// data up to the boundary plus everything bumped down from the top.
func (a *Arena) Peak() int { return a.boundary + len(a.buf) - a.lowest }
