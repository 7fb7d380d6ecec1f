// Package operators resolves output shapes of graph nodes and compiles them into
// shape-specialized kernels.
//
// Each operator kind is registered with a Registry as a pair of functions: a
// resolver computing the output descriptor from the input descriptors, and a
// compiler producing a CompiledKernel for a Target. Both are pure functions of
// their arguments. MatMul is registered by default.
package operators

import (
	"slices"
	"strings"
	"sync"

	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/tensor"
)

// ResolveFunc computes the output descriptor of a node. The returned Info has
// no name.
type ResolveFunc func(inputs []tensor.Info, attrs graph.Attributes) (tensor.Info, error)

// CompileFunc produces a kernel for resolved input and output descriptors.
type CompileFunc func(inputs []tensor.Info, output tensor.Info, attrs graph.Attributes, target Target) (*CompiledKernel, error)

// Operator is the implementation of one operator kind.
type Operator struct {
	Resolve ResolveFunc
	Compile CompileFunc
}

// Registry maps operator kinds to implementations.
type Registry struct {
	mu        sync.RWMutex
	operators map[graph.OpKind]Operator
}

// NewRegistry creates a registry with all built-in operators.
func NewRegistry() *Registry {
	r := &Registry{
		operators: make(map[graph.OpKind]Operator),
	}
	r.Register(graph.MatMul, Operator{Resolve: resolveMatMul, Compile: compileMatMul})
	return r
}

// Register adds or replaces the implementation of op.
func (r *Registry) Register(op graph.OpKind, impl Operator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[op] = impl
}

// Lookup returns the implementation of op.
func (r *Registry) Lookup(op graph.OpKind) (Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.operators[op]
	return impl, ok
}

// SupportedOps returns the registered kinds, sorted.
func (r *Registry) SupportedOps() []graph.OpKind {
	r.mu.RLock()
	ops := make([]graph.OpKind, 0, len(r.operators))
	for op := range r.operators {
		ops = append(ops, op)
	}
	r.mu.RUnlock()
	slices.Sort(ops)
	return ops
}

// Resolve computes the output descriptor of an op applied to inputs.
func (r *Registry) Resolve(op graph.OpKind, inputs []tensor.Info, attrs graph.Attributes) (tensor.Info, error) {
	impl, ok := r.Lookup(op)
	if !ok || impl.Resolve == nil {
		return tensor.Info{}, compileError(UnsupportedOperator, op, "no resolver registered")
	}
	return impl.Resolve(inputs, attrs)
}

// Compile selects and specializes a kernel for op. The kernel's Op is set to op
// and its name is prefixed with op unless it already is.
func (r *Registry) Compile(op graph.OpKind, inputs []tensor.Info, output tensor.Info, attrs graph.Attributes, target Target) (*CompiledKernel, error) {
	impl, ok := r.Lookup(op)
	if !ok || impl.Compile == nil {
		return nil, compileError(UnsupportedOperator, op, "no kernel registered")
	}
	k, err := impl.Compile(inputs, output, attrs, target)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, compileError(UnsupportedOperator, op, "compiler returned no kernel")
	}
	k.Op = op
	k.Name = qualifiedName(op, k.Name)
	return k, nil
}

// qualifiedName prefixes a kernel name with its operator kind, so kernels of
// different kinds never share a name.
func qualifiedName(op graph.OpKind, name string) string {
	prefix := string(op)
	switch {
	case name == "" || name == prefix:
		return prefix
	case strings.HasPrefix(name, prefix+"_"):
		return name
	default:
		return prefix + "_" + name
	}
}
