// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph declares computation graphs of named tensors and operator nodes.
//
// A graph is validated once when it is built: tensor names are unique, every
// tensor has at most one producer, every consumed tensor is bound to an input,
// a constant or a node output, and the nodes form no cycle. A built Graph is
// immutable and can be shared by any number of sessions.
//
// Example:
//
//	g, err := graph.NewBuilder().
//	    Input("X", tensor.Float32, 1, 384, 384).
//	    Input("Y", tensor.Float32, 384, 384).
//	    Output("Z", tensor.Float32, 1, 384, 384).
//	    Node("matmul", graph.MatMul, []string{"X", "Y"}, []string{"Z"}, nil).
//	    Build()
package graph

import (
	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/tensor"
)

// OpKind names an operator.
type OpKind = graph.OpKind

// MatMul is the matrix product operator.
const MatMul = graph.MatMul

// Node is one operator application.
type Node = graph.Node

// Attribute is a scalar or list node attribute.
type Attribute = graph.Attribute

// Attributes maps attribute names to values.
type Attributes = graph.Attributes

// Graph is a validated, immutable computation graph.
type Graph = graph.Graph

// Definition is the unvalidated description of a graph.
type Definition = graph.Definition

// Builder assembles a Definition step by step.
type Builder = graph.Builder

// ValidationError reports a malformed graph.
type ValidationError = graph.ValidationError

// ValidationKind classifies a ValidationError.
type ValidationKind = graph.ValidationKind

// Sentinels for errors.Is.
var (
	ErrDuplicateTensor   = graph.ErrDuplicateTensor
	ErrDuplicateNode     = graph.ErrDuplicateNode
	ErrInvalidNode       = graph.ErrInvalidNode
	ErrInvalidShape      = graph.ErrInvalidShape
	ErrInvalidType       = graph.ErrInvalidType
	ErrUnknownTensor     = graph.ErrUnknownTensor
	ErrMultipleProducers = graph.ErrMultipleProducers
	ErrUnboundTensor     = graph.ErrUnboundTensor
	ErrCycle             = graph.ErrCycle
)

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return graph.NewBuilder()
}

// Build validates a graph given as separate parts.
func Build(tensors []tensor.Info, nodes []Node, inputs, outputs []string) (*Graph, error) {
	return graph.Build(tensors, nodes, inputs, outputs)
}

// Attribute constructors.
var (
	IntAttr    = graph.IntAttr
	FloatAttr  = graph.FloatAttr
	StringAttr = graph.StringAttr
	IntsAttr   = graph.IntsAttr
	FloatsAttr = graph.FloatsAttr
)
