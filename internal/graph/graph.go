// Package graph holds the static description of a computation: named tensor
// descriptors, operator nodes connecting them and the declared model inputs and
// outputs. A Graph is validated once by Build and is immutable afterwards.
package graph

import (
	"fmt"
	"slices"

	"github.com/born-ml/graphrt/internal/tensor"
)

// Graph is a validated, immutable computation graph.
type Graph struct {
	tensors   map[string]tensor.Info
	declared  []string // declaration order of tensors
	constants map[string]*tensor.Tensor
	nodes     []Node
	inputs    []string
	outputs   []string

	producers map[string]int   // tensor name -> producing node
	consumers map[string][]int // tensor name -> consuming nodes, in node order

	order  []int   // topological order of node indices
	stages [][]int // dependency levels, nodes within a level are independent
}

// Definition collects everything needed to build a Graph.
type Definition struct {
	Tensors   []tensor.Info
	Nodes     []Node
	Inputs    []string
	Outputs   []string
	Constants map[string]*tensor.Tensor // values for declared tensors that are neither inputs nor produced
}

// Build validates the pieces of a graph and returns an immutable Graph.
//
// Checks run in this order: tensor and node name uniqueness, node well-formedness,
// declared shapes and element types, name resolution, the single-producer rule,
// tensor bindings and finally acyclicity. The first failure is returned as a *ValidationError.
func Build(tensors []tensor.Info, nodes []Node, inputs, outputs []string) (*Graph, error) {
	return Definition{Tensors: tensors, Nodes: nodes, Inputs: inputs, Outputs: outputs}.Build()
}

// Build validates the definition. See the package-level Build.
func (d Definition) Build() (*Graph, error) {
	g := &Graph{
		tensors:   make(map[string]tensor.Info, len(d.Tensors)),
		constants: make(map[string]*tensor.Tensor, len(d.Constants)),
		producers: make(map[string]int),
		consumers: make(map[string][]int),
		inputs:    append([]string(nil), d.Inputs...),
		outputs:   append([]string(nil), d.Outputs...),
	}

	for _, info := range d.Tensors {
		if info.Name == "" {
			return nil, invalid(UnknownTensor, "", "tensor descriptor with empty name")
		}
		if _, dup := g.tensors[info.Name]; dup {
			return nil, invalid(DuplicateTensor, info.Name, "declared more than once")
		}
		g.tensors[info.Name] = tensor.Info{Name: info.Name, Shape: info.Shape.Clone(), DType: info.DType}
		g.declared = append(g.declared, info.Name)
	}

	nodeNames := make(map[string]bool, len(d.Nodes))
	g.nodes = make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		node := n.clone()
		if node.Name == "" {
			node.Name = fmt.Sprintf("%s_%d", node.Op, i)
		}
		if nodeNames[node.Name] {
			return nil, invalid(DuplicateNode, node.Name, "node name used more than once")
		}
		nodeNames[node.Name] = true
		if node.Op == "" {
			return nil, invalid(InvalidNode, node.Name, "node has no operator kind")
		}
		if len(node.Outputs) == 0 {
			return nil, invalid(InvalidNode, node.Name, "node has no outputs")
		}
		g.nodes[i] = node
	}

	for _, name := range g.declared {
		info := g.tensors[name]
		if err := info.Shape.ValidateDeclared(); err != nil {
			return nil, invalid(InvalidShape, name, "%v", err)
		}
		if !info.DType.Valid() {
			return nil, invalid(InvalidType, name, "unknown element type %d", int(info.DType))
		}
	}

	if err := g.resolveNames(); err != nil {
		return nil, err
	}
	if err := g.checkProducers(d.Constants); err != nil {
		return nil, err
	}
	if err := g.checkBindings(); err != nil {
		return nil, err
	}
	if err := g.sort(); err != nil {
		return nil, err
	}
	return g, nil
}

// resolveNames checks that every referenced name is declared or produced by a node.
func (g *Graph) resolveNames() error {
	produced := make(map[string]bool)
	for _, n := range g.nodes {
		for _, out := range n.Outputs {
			if out == "" {
				return invalid(UnknownTensor, n.Name, "empty output name")
			}
			produced[out] = true
		}
	}
	known := func(name string) bool {
		_, declared := g.tensors[name]
		return declared || produced[name]
	}
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in == "" || !known(in) {
				return invalid(UnknownTensor, in, "input of node %q is neither declared nor produced", n.Name)
			}
		}
	}
	for _, name := range g.inputs {
		if _, ok := g.tensors[name]; !ok {
			return invalid(UnknownTensor, name, "declared input has no tensor descriptor")
		}
	}
	for _, name := range g.outputs {
		if !known(name) {
			return invalid(UnknownTensor, name, "declared output is neither declared nor produced")
		}
	}
	return nil
}

// checkProducers enforces that each tensor name has at most one source: a node, a
// declared input or a constant.
func (g *Graph) checkProducers(constants map[string]*tensor.Tensor) error {
	isInput := make(map[string]bool, len(g.inputs))
	for _, name := range g.inputs {
		if isInput[name] {
			return invalid(MultipleProducers, name, "listed twice as a declared input")
		}
		isInput[name] = true
	}
	for i, n := range g.nodes {
		for _, out := range n.Outputs {
			if prev, ok := g.producers[out]; ok {
				return invalid(MultipleProducers, out, "written by nodes %q and %q", g.nodes[prev].Name, n.Name)
			}
			if isInput[out] {
				return invalid(MultipleProducers, out, "declared input is also written by node %q", n.Name)
			}
			g.producers[out] = i
		}
		for _, in := range n.Inputs {
			g.consumers[in] = append(g.consumers[in], i)
		}
	}
	names := make([]string, 0, len(constants))
	for name := range constants {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		value := constants[name]
		info, ok := g.tensors[name]
		if !ok {
			return invalid(UnknownTensor, name, "constant has no tensor descriptor")
		}
		if isInput[name] {
			return invalid(MultipleProducers, name, "declared input also has a constant value")
		}
		if p, ok := g.producers[name]; ok {
			return invalid(MultipleProducers, name, "constant is also written by node %q", g.nodes[p].Name)
		}
		if value == nil || value.DType() != info.DType || !value.Shape().Equal(info.Shape) {
			return invalid(InvalidShape, name, "constant value does not match descriptor %s", info)
		}
		g.constants[name] = value
	}
	return nil
}

// checkBindings rejects declared tensors that are consumed or exported but have
// no source at all.
func (g *Graph) checkBindings() error {
	isInput := make(map[string]bool, len(g.inputs))
	for _, name := range g.inputs {
		isInput[name] = true
	}
	bound := func(name string) bool {
		_, produced := g.producers[name]
		_, constant := g.constants[name]
		return produced || constant || isInput[name]
	}
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if !bound(in) {
				return invalid(UnboundTensor, in, "consumed by node %q but is not an input, a constant or a node output", n.Name)
			}
		}
	}
	for _, name := range g.outputs {
		if !bound(name) {
			return invalid(UnboundTensor, name, "declared output has no source")
		}
	}
	return nil
}

// sort computes a topological order with Kahn's algorithm, one dependency level
// at a time. Nodes inside a level keep their declaration order.
func (g *Graph) sort() error {
	pending := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		for _, in := range n.Inputs {
			if _, ok := g.producers[in]; ok {
				pending[i]++
			}
		}
	}

	done := 0
	var ready []int
	for i := range g.nodes {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}
	for len(ready) > 0 {
		stage := ready
		g.stages = append(g.stages, stage)
		g.order = append(g.order, stage...)
		done += len(stage)

		ready = nil
		for _, i := range stage {
			for _, out := range g.nodes[i].Outputs {
				for _, c := range g.consumers[out] {
					pending[c]--
					if pending[c] == 0 {
						ready = append(ready, c)
					}
				}
			}
		}
		slices.Sort(ready)
	}

	if done != len(g.nodes) {
		for i := range g.nodes {
			if pending[i] > 0 {
				return invalid(Cycle, g.nodes[i].Name, "node depends on its own output")
			}
		}
	}
	return nil
}

// Tensor returns the declared descriptor of name.
func (g *Graph) Tensor(name string) (tensor.Info, bool) {
	info, ok := g.tensors[name]
	return info, ok
}

// Tensors returns the declared descriptors in declaration order.
func (g *Graph) Tensors() []tensor.Info {
	out := make([]tensor.Info, len(g.declared))
	for i, name := range g.declared {
		out[i] = g.tensors[name]
	}
	return out
}

// Names returns every tensor name of the graph: declared ones first, then the
// undeclared node outputs in topological order.
func (g *Graph) Names() []string {
	names := append([]string(nil), g.declared...)
	for _, i := range g.order {
		for _, out := range g.nodes[i].Outputs {
			if _, ok := g.tensors[out]; !ok {
				names = append(names, out)
			}
		}
	}
	return names
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Node returns node i in declaration order.
func (g *Graph) Node(i int) Node {
	return g.nodes[i]
}

// Nodes returns a copy of the nodes in declaration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Inputs returns the declared input names in order.
func (g *Graph) Inputs() []string {
	return append([]string(nil), g.inputs...)
}

// Outputs returns the declared output names in order.
func (g *Graph) Outputs() []string {
	return append([]string(nil), g.outputs...)
}

// Constant returns the constant value bound to name, if any.
func (g *Graph) Constant(name string) (*tensor.Tensor, bool) {
	c, ok := g.constants[name]
	return c, ok
}

// Producer returns the index of the node writing name.
func (g *Graph) Producer(name string) (int, bool) {
	i, ok := g.producers[name]
	return i, ok
}

// Order returns node indices in topological order.
func (g *Graph) Order() []int {
	return append([]int(nil), g.order...)
}

// Stages returns node indices grouped by dependency level. Every node of a stage
// only reads tensors produced by earlier stages, inputs or constants.
func (g *Graph) Stages() [][]int {
	out := make([][]int, len(g.stages))
	for i, s := range g.stages {
		out[i] = append([]int(nil), s...)
	}
	return out
}
