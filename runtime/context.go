package runtime

import (
	"fmt"

	"github.com/sbl8/staticgraph/core"
)

// kernelContext is the kernels.Context handed to kernels by a session.
type kernelContext struct {
	s *Session
}

func (c kernelContext) AllocatePersistentBuffer(size int) ([]byte, error) {
	if c.s.arena == nil {
		return nil, fmt.Errorf("%w: no arena", ErrInvalidState)
	}
	return c.s.arena.AllocatePersistent(size)
}

func (c kernelContext) RequestScratchBuffer(size int) (int, error) {
	if c.s.phase != PhaseInit && c.s.phase != PhasePrepare {
		return -1, fmt.Errorf("%w: scratch buffers can only be requested while preparing", ErrInvalidState)
	}
	return c.s.arena.RequestScratch(size)
}

func (c kernelContext) GetScratchBuffer(index int) ([]byte, error) {
	if c.s.arena == nil {
		return nil, fmt.Errorf("%w: no arena", ErrInvalidState)
	}
	return c.s.arena.Scratch(index)
}

func (c kernelContext) Tensor(index int) *core.Tensor {
	if index < 0 || index >= len(c.s.tensors) {
		return nil
	}
	return &c.s.tensors[index]
}
