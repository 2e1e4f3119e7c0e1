package kernels

import (
	"fmt"

	"github.com/sbl8/staticgraph/model"
)

// Registry maps operator kinds to kernels. It is populated before any
// session is built and read-only afterwards.
type Registry struct {
	catalog [256]Kernel
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds k to op. Registering an operator twice is an error.
func (r *Registry) Register(op model.OpKind, k Kernel) error {
	if k == nil {
		return fmt.Errorf("nil kernel for %v", op)
	}
	if r.catalog[op] != nil {
		return fmt.Errorf("kernel for %v already registered", op)
	}
	r.catalog[op] = k
	return nil
}

// Lookup returns the kernel bound to op.
func (r *Registry) Lookup(op model.OpKind) (Kernel, bool) {
	k := r.catalog[op]
	return k, k != nil
}

// Ops lists the registered operator kinds in ascending order.
func (r *Registry) Ops() []model.OpKind {
	var ops []model.OpKind
	for i, k := range r.catalog {
		if k != nil {
			ops = append(ops, model.OpKind(i))
		}
	}
	return ops
}

// DefaultRegistry returns a fresh registry holding the reference kernels.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for op, k := range map[model.OpKind]Kernel{
		model.OpReshape:        Reshape{},
		model.OpConv2D:         Conv2D{},
		model.OpAdd:            Add{},
		model.OpMaxPool2D:      MaxPool2D{},
		model.OpFullyConnected: FullyConnected{},
		model.OpSoftmax:        Softmax{},
	} {
		// Keys are distinct, so Register cannot fail here.
		_ = r.Register(op, k)
	}
	return r
}
