package operators

import (
	"fmt"

	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/tensor"
)

// matmulDims holds the operand geometry of a resolved MatMul: left is
// (batch×m×k) or (m×k), right is (k×n).
type matmulDims struct {
	batch, m, k, n int
	stack          bool // left operand carries a batch dimension
}

// resolveMatMul computes the output of MatMul.
//
//	(m×k)   · (k×n)   -> (m×n)
//	(b×m×k) · (k×n)   -> (b×m×n)   right operand shared across the batch
//	(b×m×k) · (1×k×n) -> (b×m×n)   leading 1 dropped
//
// Any other batched right operand is rejected as Unimplemented.
func resolveMatMul(inputs []tensor.Info, _ graph.Attributes) (tensor.Info, error) {
	d, err := matmulGeometry(inputs)
	if err != nil {
		return tensor.Info{}, err
	}
	shape := tensor.Shape{d.m, d.n}
	if d.stack {
		shape = tensor.Shape{d.batch, d.m, d.n}
	}
	return tensor.Info{Shape: shape, DType: inputs[0].DType}, nil
}

func matmulGeometry(inputs []tensor.Info) (matmulDims, error) {
	op := graph.MatMul
	if len(inputs) != 2 {
		return matmulDims{}, shapeError(op, inputs, Invalid, "expected 2 inputs, got %d", len(inputs))
	}
	left, right := inputs[0], inputs[1]
	for _, in := range inputs {
		if err := in.Shape.Validate(); err != nil {
			return matmulDims{}, shapeError(op, inputs, Invalid, "input %q: %v", in.Name, err)
		}
	}

	if r := left.Shape.Rank(); r < 2 || r > 3 {
		return matmulDims{}, shapeError(op, inputs, Unimplemented,
			"left side has rank %d, only 2-D matrices and 3-D stacks of matrices are supported", r)
	}
	if r := right.Shape.Rank(); r < 2 || r > 3 {
		return matmulDims{}, shapeError(op, inputs, Unimplemented,
			"right side has rank %d, only 2-D matrices are supported", r)
	}
	if left.DType != right.DType {
		return matmulDims{}, shapeError(op, inputs, Invalid,
			"element types differ: left side is %s, right side is %s", left.DType, right.DType)
	}

	rs := right.Shape
	if rs.Rank() == 3 {
		switch {
		case rs[0] != 1:
			return matmulDims{}, shapeError(op, inputs, Unimplemented,
				"broadcasting for two stacks of matrices: left side has shape %s, right side has shape %s",
				left.Shape, right.Shape)
		case left.Shape.Rank() == 2:
			return matmulDims{}, shapeError(op, inputs, Unimplemented,
				"broadcasting a matrix against a stack of matrices: left side has shape %s, right side has shape %s",
				left.Shape, right.Shape)
		}
		rs = rs[1:]
	}

	d := matmulDims{batch: 1}
	ls := left.Shape
	if ls.Rank() == 3 {
		d.batch, d.stack = ls[0], true
		ls = ls[1:]
	}
	d.m, d.k = ls[0], ls[1]
	if rs[0] != d.k {
		return matmulDims{}, shapeError(op, inputs, Invalid,
			"inner dimensions differ: left side has %d columns, right side has %d rows", d.k, rs[0])
	}
	d.n = rs[1]
	return d, nil
}

// Tile sizes. Small matrices use the 8×8 tile so that most invocations of a
// workgroup do useful work.
const (
	smallTile = 8
	largeTile = 16
)

func compileMatMul(inputs []tensor.Info, output tensor.Info, _ graph.Attributes, target Target) (*CompiledKernel, error) {
	op := graph.MatMul
	d, err := matmulGeometry(inputs)
	if err != nil {
		return nil, err
	}
	dtype := inputs[0].DType
	if output.DType != dtype {
		return nil, compileError(UnsupportedType, op, "output type %s differs from input type %s", output.DType, dtype)
	}
	if !supportsType(target, dtype) {
		return nil, compileError(UnsupportedType, op, "element type %s is not supported on %s", dtype, targetName(target))
	}

	tile := largeTile
	if d.m < largeTile || d.n < largeTile {
		tile = smallTile
	}
	if limit := target.MaxWorkgroupInvocations; limit > 0 {
		for tile > 1 && tile*tile > limit {
			tile /= 2
		}
	}

	variant := VariantPlain
	if d.stack {
		variant = VariantStack
	}
	dispatch := Dispatch{
		Variant:       variant,
		Tile:          tile,
		WorkgroupSize: [3]int{tile, tile, 1},
		Workgroups:    [3]int{ceilDiv(d.n, tile), ceilDiv(d.m, tile), d.batch},
		Unroll:        unrollWidth(target.VectorWidth),
	}
	if limit := target.MaxWorkgroupsPerDimension; limit > 0 {
		for axis, count := range dispatch.Workgroups {
			if count > limit {
				return nil, compileError(ExceedsLimits, op,
					"%d workgroups along axis %d exceed the device limit of %d", count, axis, limit)
			}
		}
	}

	k := &CompiledKernel{
		Name: fmt.Sprintf("%s_%s_%s_%dx%dx%dx%d_t%d", op, variant, dtype, d.batch, d.m, d.k, d.n, tile),
		Op:   op,
		InputShapes: []tensor.Shape{
			inputs[0].Shape.Clone(),
			inputs[1].Shape.Clone(),
		},
		OutputShape: output.Shape.Clone(),
		DType:       dtype,
		Dispatch:    dispatch,
		EntryPoint:  "main",
	}
	if dtype == tensor.Float32 {
		src, err := matmulShader(d, dispatch)
		if err != nil {
			return nil, err
		}
		k.Shader = src
	}
	k.Host = matmulHost(d, dtype, dispatch.Unroll)
	return k, nil
}

func supportsType(target Target, dtype tensor.DataType) bool {
	if !target.HostExecution {
		return dtype == tensor.Float32
	}
	switch dtype {
	case tensor.Float32, tensor.Float16, tensor.Int32, tensor.Int64:
		return true
	default:
		return false
	}
}

func targetName(target Target) string {
	if target.Name != "" {
		return target.Name
	}
	if target.HostExecution {
		return "host target"
	}
	return "shader target"
}

func unrollWidth(vectorWidth int) int {
	switch {
	case vectorWidth >= 8:
		return 8
	case vectorWidth >= 4:
		return 4
	default:
		return 1
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
