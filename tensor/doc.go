// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides host tensors and tensor descriptors.
//
// # Overview
//
// A Tensor is a dense, row-major block of host memory with a shape and an
// element type. An Info describes a tensor by name, shape and element type
// without holding data; graphs are declared in terms of Info values.
//
// Supported element types:
//   - Float32
//   - Float16 (IEEE 754 half precision)
//   - Int32
//   - Int64
//
// # Basic Usage
//
//	x, err := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(x.Shape(), x.DType()) // [2 3] float32
//
// # Batch Dimension
//
// Declared shapes may use BatchDim as their first dimension. The placeholder is
// bound to a concrete size when a session is created:
//
//	info := tensor.NewInfo("X", tensor.Float32, tensor.BatchDim, 384, 384)
package tensor
