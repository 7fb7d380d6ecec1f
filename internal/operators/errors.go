package operators

import (
	"fmt"
	"strings"

	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/tensor"
)

// ShapeReason tells whether a rejected shape combination is malformed or merely
// not implemented yet.
type ShapeReason int

// Shape rejection reasons.
const (
	Invalid ShapeReason = iota + 1
	Unimplemented
)

// String returns the reason name.
func (r ShapeReason) String() string {
	switch r {
	case Invalid:
		return "invalid"
	case Unimplemented:
		return "unimplemented"
	default:
		return fmt.Sprintf("ShapeReason(%d)", int(r))
	}
}

// UnsupportedShapeError reports input shapes an operator cannot handle.
type UnsupportedShapeError struct {
	Op     graph.OpKind
	Shapes []tensor.Shape
	Reason ShapeReason
	Detail string
}

// Error implements error.
func (e *UnsupportedShapeError) Error() string {
	shapes := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		shapes[i] = s.String()
	}
	return fmt.Sprintf("%s: %s shape: %s (input shapes %s)", e.Op, e.Reason, e.Detail, strings.Join(shapes, ", "))
}

// Is matches sentinels with the same reason.
func (e *UnsupportedShapeError) Is(target error) bool {
	t, ok := target.(*UnsupportedShapeError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrInvalidShape       = &UnsupportedShapeError{Reason: Invalid}
	ErrUnimplementedShape = &UnsupportedShapeError{Reason: Unimplemented}
)

func shapeError(op graph.OpKind, inputs []tensor.Info, reason ShapeReason, format string, args ...any) *UnsupportedShapeError {
	shapes := make([]tensor.Shape, len(inputs))
	for i, in := range inputs {
		shapes[i] = in.Shape.Clone()
	}
	return &UnsupportedShapeError{Op: op, Shapes: shapes, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// CompileKind classifies a kernel selection failure.
type CompileKind int

// Kernel selection failure kinds.
const (
	UnsupportedOperator CompileKind = iota + 1
	UnsupportedType
	ExceedsLimits
)

// String returns the kind name.
func (k CompileKind) String() string {
	switch k {
	case UnsupportedOperator:
		return "UnsupportedOperator"
	case UnsupportedType:
		return "UnsupportedType"
	case ExceedsLimits:
		return "ExceedsLimits"
	default:
		return fmt.Sprintf("CompileKind(%d)", int(k))
	}
}

// CompileError reports that no kernel could be produced for a node.
type CompileError struct {
	Kind   CompileKind
	Op     graph.OpKind
	Detail string
}

// Error implements error.
func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %s: %s", e.Op, e.Kind, e.Detail)
}

// Is matches sentinels with the same kind.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnsupportedOperator = &CompileError{Kind: UnsupportedOperator}
	ErrUnsupportedType     = &CompileError{Kind: UnsupportedType}
	ErrExceedsLimits       = &CompileError{Kind: ExceedsLimits}
)

func compileError(kind CompileKind, op graph.OpKind, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}
