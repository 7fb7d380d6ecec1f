package operators

import (
	"context"
	"fmt"

	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/parallel"
	"github.com/born-ml/graphrt/internal/tensor"
)

// Target describes the device a kernel is compiled for.
type Target struct {
	Name string

	// HostExecution is set for devices that run the Host function of a kernel
	// instead of its shader.
	HostExecution bool

	MaxWorkgroupInvocations   int // 0 means unlimited
	MaxWorkgroupsPerDimension int // 0 means unlimited

	// VectorWidth is the number of float32 lanes the host CPU processes at
	// once. Host kernels unroll their inner loop to it.
	VectorWidth int
}

// Variant selects the shape specialization of a kernel.
type Variant string

// MatMul variants.
const (
	VariantPlain Variant = "plain" // (m×k)·(k×n), 2-D grid
	VariantStack Variant = "stack" // (b×m×k)·(k×n), 3-D grid with z = batch
)

// Dispatch holds the launch geometry of a kernel.
type Dispatch struct {
	Variant       Variant
	Tile          int
	WorkgroupSize [3]int
	Workgroups    [3]int
	Unroll        int // host inner-loop unroll width
}

// Invocations returns the total number of shader invocations launched.
func (d Dispatch) Invocations() int {
	return d.WorkgroupSize[0] * d.WorkgroupSize[1] * d.WorkgroupSize[2] *
		d.Workgroups[0] * d.Workgroups[1] * d.Workgroups[2]
}

// HostFunc runs a kernel on host memory. inputs and output are little-endian
// buffers of the kernel's element type; output must be written in full.
type HostFunc func(ctx context.Context, inputs [][]byte, output []byte, cfg parallel.Config) error

// CompiledKernel is a kernel specialized to concrete shapes and an element type.
type CompiledKernel struct {
	Name        string // unique per shapes, type, variant and tile; usable as a cache key
	Op          graph.OpKind
	InputShapes []tensor.Shape
	OutputShape tensor.Shape
	DType       tensor.DataType
	Dispatch    Dispatch

	// Shader is WGSL source with entry point EntryPoint. Bindings 0..n-1 are the
	// inputs (read-only storage), binding n is the output. Empty when the
	// element type has no shader implementation.
	Shader     string
	EntryPoint string

	Host HostFunc
}

// String returns a short description for logs.
func (k *CompiledKernel) String() string {
	return fmt.Sprintf("%s[%s tile=%d wg=%dx%dx%d]", k.Name, k.Dispatch.Variant, k.Dispatch.Tile,
		k.Dispatch.Workgroups[0], k.Dispatch.Workgroups[1], k.Dispatch.Workgroups[2])
}
