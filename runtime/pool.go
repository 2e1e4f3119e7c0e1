package runtime

import "github.com/sbl8/staticgraph/core"

// BufferPool recycles arena buffers of one size between sessions. Its Alloc
// and Free methods satisfy AllocFunc and FreeFunc.
type BufferPool struct {
	buffers chan []byte
	size    int
	align   int
}

// NewBufferPool creates a pool holding up to poolSize buffers of bufferSize bytes.
func NewBufferPool(poolSize, bufferSize, align int) *BufferPool {
	if align <= 0 {
		align = core.DefaultAlignment
	}
	return &BufferPool{
		buffers: make(chan []byte, poolSize),
		size:    bufferSize,
		align:   align,
	}
}

// Alloc returns a pooled buffer, or a fresh one when the pool is empty or
// the request does not match the pool's geometry.
func (bp *BufferPool) Alloc(size, align int) ([]byte, error) {
	if size != bp.size || align > bp.align {
		return core.AlignedBytes(size, align), nil
	}
	select {
	case buf := <-bp.buffers:
		clear(buf)
		return buf, nil
	default:
		return core.AlignedBytes(bp.size, bp.align), nil
	}
}

// Free returns buf to the pool.
func (bp *BufferPool) Free(buf []byte) {
	if len(buf) != bp.size || !core.IsAligned(buf, bp.align) {
		return
	}
	select {
	case bp.buffers <- buf:
	default:
		// full
	}
}

// Len is the number of idle buffers.
func (bp *BufferPool) Len() int { return len(bp.buffers) }
