// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/graphrt/internal/tensor"

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Supported element types.
const (
	Float32 DataType = tensor.Float32
	Float16 DataType = tensor.Float16
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
)

// BatchDim marks dimension 0 of a declared shape as the symbolic batch size.
const BatchDim = tensor.BatchDim

// Shape is a list of dimension sizes, outermost first.
type Shape = tensor.Shape

// Info describes a named tensor: its shape and element type.
type Info = tensor.Info

// Tensor is a dense row-major host tensor.
type Tensor = tensor.Tensor

// NewInfo creates a tensor descriptor.
func NewInfo(name string, dtype DataType, shape ...int) Info {
	return tensor.NewInfo(name, dtype, shape...)
}

// ParseDataType parses an element type name such as "float32".
func ParseDataType(name string) (DataType, error) {
	return tensor.ParseDataType(name)
}

// New creates a zero-filled tensor.
func New(dtype DataType, shape Shape) (*Tensor, error) {
	return tensor.New(dtype, shape)
}

// FromBytes creates a tensor holding a copy of raw little-endian element bytes.
func FromBytes(dtype DataType, shape Shape, raw []byte) (*Tensor, error) {
	return tensor.FromBytes(dtype, shape, raw)
}

// FromFloat32 creates a Float32 tensor from data.
func FromFloat32(shape Shape, data []float32) (*Tensor, error) {
	return tensor.FromFloat32(shape, data)
}

// Float16FromFloat32 creates a Float16 tensor by rounding data.
func Float16FromFloat32(shape Shape, data []float32) (*Tensor, error) {
	return tensor.Float16FromFloat32(shape, data)
}

// FromInt32 creates an Int32 tensor from data.
func FromInt32(shape Shape, data []int32) (*Tensor, error) {
	return tensor.FromInt32(shape, data)
}

// FromInt64 creates an Int64 tensor from data.
func FromInt64(shape Shape, data []int64) (*Tensor, error) {
	return tensor.FromInt64(shape, data)
}
