package session

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/operators"
	"github.com/born-ml/graphrt/internal/tensor"
)

// Stats are cumulative session counters.
type Stats struct {
	Runs           uint64
	Failures       uint64
	Buffers        int
	BytesAllocated uint64
	Poisoned       bool
}

// String returns a human-readable summary.
func (s Stats) String() string {
	msg := fmt.Sprintf("%d runs (%d failed), %d buffers (%s)", s.Runs, s.Failures, s.Buffers, humanize.IBytes(s.BytesAllocated))
	if s.Poisoned {
		msg += ", poisoned"
	}
	return msg
}

// KernelInfo is a read-only summary of a compiled kernel.
type KernelInfo struct {
	Node        string
	Name        string
	Op          graph.OpKind
	Variant     operators.Variant
	Tile        int
	Workgroups  [3]int
	InputShapes []tensor.Shape
	OutputShape tensor.Shape
	DType       tensor.DataType
}

func newKernelInfo(node string, k *operators.CompiledKernel) KernelInfo {
	shapes := make([]tensor.Shape, len(k.InputShapes))
	for i, s := range k.InputShapes {
		shapes[i] = s.Clone()
	}
	return KernelInfo{
		Node:        node,
		Name:        k.Name,
		Op:          k.Op,
		Variant:     k.Dispatch.Variant,
		Tile:        k.Dispatch.Tile,
		Workgroups:  k.Dispatch.Workgroups,
		InputShapes: shapes,
		OutputShape: k.OutputShape.Clone(),
		DType:       k.DType,
	}
}
