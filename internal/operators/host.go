package operators

import (
	"context"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/graphrt/internal/parallel"
	"github.com/born-ml/graphrt/internal/tensor"
)

// matmulHost returns the host implementation of a MatMul specialized to d.
// Rows of the output are independent and split across workers; within a row
// the accumulation order over k is fixed, so results do not depend on the
// worker count or the unroll width.
func matmulHost(d matmulDims, dtype tensor.DataType, unroll int) HostFunc {
	sizeA := d.batch * d.m * d.k * dtype.Size()
	sizeB := d.k * d.n * dtype.Size()
	sizeC := d.batch * d.m * d.n * dtype.Size()

	return func(ctx context.Context, inputs [][]byte, output []byte, cfg parallel.Config) error {
		if len(inputs) != 2 {
			return errors.Errorf("MatMul: expected 2 input buffers, got %d", len(inputs))
		}
		if len(inputs[0]) < sizeA || len(inputs[1]) < sizeB || len(output) < sizeC {
			return errors.Errorf("MatMul: buffers too small: got %d, %d -> %d bytes, need %d, %d -> %d",
				len(inputs[0]), len(inputs[1]), len(output), sizeA, sizeB, sizeC)
		}
		a, b, c := inputs[0][:sizeA], inputs[1][:sizeB], output[:sizeC]

		switch dtype {
		case tensor.Float32:
			return matmulRows(ctx, tensor.View[float32](a), tensor.View[float32](b), tensor.View[float32](c), d, unroll, cfg)
		case tensor.Int32:
			return matmulRows(ctx, tensor.View[int32](a), tensor.View[int32](b), tensor.View[int32](c), d, unroll, cfg)
		case tensor.Int64:
			return matmulRows(ctx, tensor.View[int64](a), tensor.View[int64](b), tensor.View[int64](c), d, unroll, cfg)
		case tensor.Float16:
			// Accumulate in float32, round once on store.
			a32 := float16ToFloat32(tensor.View[float16.Float16](a))
			b32 := float16ToFloat32(tensor.View[float16.Float16](b))
			c32 := make([]float32, d.batch*d.m*d.n)
			if err := matmulRows(ctx, a32, b32, c32, d, unroll, cfg); err != nil {
				return err
			}
			out := tensor.View[float16.Float16](c)
			for i, v := range c32 {
				out[i] = float16.Fromfloat32(v)
			}
			return nil
		default:
			return errors.Errorf("MatMul: no host kernel for %s", dtype)
		}
	}
}

type number interface {
	float32 | int32 | int64
}

// matmulRows computes C = A·B row by row in i-k-j order.
func matmulRows[T number](ctx context.Context, a, b, c []T, d matmulDims, unroll int, cfg parallel.Config) error {
	m, k, n := d.m, d.k, d.n
	return parallel.ForBatch(ctx, d.batch, m, func(bi, i int) {
		arow := a[(bi*m+i)*k : (bi*m+i+1)*k]
		crow := c[(bi*m+i)*n : (bi*m+i+1)*n]
		clear(crow)
		for p, av := range arow {
			brow := b[p*n : (p+1)*n]
			axpy(crow, brow, av, unroll)
		}
	}, cfg)
}

// axpy computes y += alpha*x.
func axpy[T number](y, x []T, alpha T, unroll int) {
	j := 0
	switch unroll {
	case 8:
		for ; j+8 <= len(y); j += 8 {
			y[j] += alpha * x[j]
			y[j+1] += alpha * x[j+1]
			y[j+2] += alpha * x[j+2]
			y[j+3] += alpha * x[j+3]
			y[j+4] += alpha * x[j+4]
			y[j+5] += alpha * x[j+5]
			y[j+6] += alpha * x[j+6]
			y[j+7] += alpha * x[j+7]
		}
	case 4:
		for ; j+4 <= len(y); j += 4 {
			y[j] += alpha * x[j]
			y[j+1] += alpha * x[j+1]
			y[j+2] += alpha * x[j+2]
			y[j+3] += alpha * x[j+3]
		}
	}
	for ; j < len(y); j++ {
		y[j] += alpha * x[j]
	}
}

func float16ToFloat32(in []float16.Float16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = v.Float32()
	}
	return out
}
