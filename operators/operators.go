// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package operators resolves output shapes and compiles kernels for operator
// nodes.
//
// Custom operators are added to a Registry and passed to a session with
// session.WithRegistry.
package operators

import (
	"github.com/born-ml/graphrt/internal/operators"
	"github.com/born-ml/graphrt/internal/parallel"
)

// Registry maps operator kinds to implementations.
type Registry = operators.Registry

// Operator is the implementation of one operator kind.
type Operator = operators.Operator

// ResolveFunc computes the output descriptor of a node.
type ResolveFunc = operators.ResolveFunc

// CompileFunc produces a kernel for resolved descriptors.
type CompileFunc = operators.CompileFunc

// CompiledKernel is a kernel specialized to concrete shapes.
type CompiledKernel = operators.CompiledKernel

// Target describes the device a kernel is compiled for.
type Target = operators.Target

// HostFunc executes a kernel on the CPU.
type HostFunc = operators.HostFunc

// ParallelConfig controls the data-parallel loops of host kernels.
type ParallelConfig = parallel.Config

// UnsupportedShapeError reports input shapes an operator cannot handle.
type UnsupportedShapeError = operators.UnsupportedShapeError

// CompileError reports a kernel that cannot be built.
type CompileError = operators.CompileError

// Sentinels for errors.Is.
var (
	ErrInvalidShape        = operators.ErrInvalidShape
	ErrUnimplementedShape  = operators.ErrUnimplementedShape
	ErrUnsupportedOperator = operators.ErrUnsupportedOperator
	ErrUnsupportedType     = operators.ErrUnsupportedType
	ErrExceedsLimits       = operators.ErrExceedsLimits
)

// NewRegistry creates a registry holding the built-in operators.
func NewRegistry() *Registry {
	return operators.NewRegistry()
}
