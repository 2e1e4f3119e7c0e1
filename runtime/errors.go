package runtime

import (
	"errors"
	"fmt"

	"github.com/sbl8/staticgraph/model"
)

var (
	// ErrAllocation reports that neither the arena nor the heap fallback
	// could satisfy a request.
	ErrAllocation = errors.New("allocation failed")
	// ErrKernelInit reports a kernel rejecting its parameters.
	ErrKernelInit = errors.New("kernel init failed")
	// ErrKernelPrepare reports a kernel rejecting its configuration.
	ErrKernelPrepare = errors.New("kernel prepare failed")
	// ErrKernelInvoke reports a kernel failing at run time.
	ErrKernelInvoke = errors.New("kernel invoke failed")
	// ErrContractViolation reports caller misuse such as an out-of-range
	// slot or scratch index.
	ErrContractViolation = errors.New("contract violation")
	// ErrInvalidState reports an operation called in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid session state")
)

// Phase names the kernel entry point that failed.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhasePrepare Phase = "prepare"
	PhaseInvoke  Phase = "invoke"
)

func (p Phase) sentinel() error {
	switch p {
	case PhaseInit:
		return ErrKernelInit
	case PhasePrepare:
		return ErrKernelPrepare
	default:
		return ErrKernelInvoke
	}
}

// KernelError wraps a kernel failure with the node that produced it.
// errors.Is matches both the phase sentinel and the kernel's own error.
type KernelError struct {
	Node  int
	Op    model.OpKind
	Phase Phase
	Err   error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("node %d (%v) %s: %v", e.Node, e.Op, e.Phase, e.Err)
}

func (e *KernelError) Unwrap() []error {
	return []error{e.Phase.sentinel(), e.Err}
}
