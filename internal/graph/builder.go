package graph

import "github.com/born-ml/graphrt/internal/tensor"

// Builder assembles a Definition step by step.
//
//	g, err := graph.NewBuilder().
//		Input("X", tensor.Float32, 1, m, k).
//		Input("Y", tensor.Float32, k, n).
//		Output("Z", tensor.Float32, 1, m, n).
//		Node("matmul", graph.MatMul, []string{"X", "Y"}, []string{"Z"}, nil).
//		Build()
type Builder struct {
	def Definition
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Tensor declares a tensor that is neither a model input nor a model output.
func (b *Builder) Tensor(name string, dtype tensor.DataType, shape ...int) *Builder {
	b.def.Tensors = append(b.def.Tensors, tensor.NewInfo(name, dtype, shape...))
	return b
}

// Input declares a tensor and marks it as a model input.
func (b *Builder) Input(name string, dtype tensor.DataType, shape ...int) *Builder {
	b.Tensor(name, dtype, shape...)
	b.def.Inputs = append(b.def.Inputs, name)
	return b
}

// Output declares a tensor and marks it as a model output.
func (b *Builder) Output(name string, dtype tensor.DataType, shape ...int) *Builder {
	b.Tensor(name, dtype, shape...)
	b.def.Outputs = append(b.def.Outputs, name)
	return b
}

// Export marks an already declared or produced tensor as a model output without
// declaring a descriptor for it.
func (b *Builder) Export(name string) *Builder {
	b.def.Outputs = append(b.def.Outputs, name)
	return b
}

// Constant declares a tensor with a fixed value, uploaded once per session.
func (b *Builder) Constant(name string, value *tensor.Tensor) *Builder {
	b.def.Tensors = append(b.def.Tensors, tensor.Info{Name: name, Shape: value.Shape().Clone(), DType: value.DType()})
	if b.def.Constants == nil {
		b.def.Constants = make(map[string]*tensor.Tensor)
	}
	b.def.Constants[name] = value
	return b
}

// Node appends an operator node.
func (b *Builder) Node(name string, op OpKind, inputs, outputs []string, attrs Attributes) *Builder {
	b.def.Nodes = append(b.def.Nodes, Node{Name: name, Op: op, Inputs: inputs, Outputs: outputs, Attributes: attrs})
	return b
}

// Definition returns the collected definition without validating it.
func (b *Builder) Definition() Definition {
	return b.def
}

// Build validates the collected definition.
func (b *Builder) Build() (*Graph, error) {
	return b.def.Build()
}
