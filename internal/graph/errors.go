package graph

import "fmt"

// ValidationKind classifies a graph validation failure.
type ValidationKind int

// Validation failure kinds, reported in the order the checks run.
const (
	DuplicateTensor ValidationKind = iota + 1
	DuplicateNode
	InvalidNode
	InvalidShape
	InvalidType
	UnknownTensor
	MultipleProducers
	UnboundTensor
	Cycle
)

// String returns the kind name.
func (k ValidationKind) String() string {
	switch k {
	case DuplicateTensor:
		return "DuplicateTensor"
	case DuplicateNode:
		return "DuplicateNode"
	case InvalidNode:
		return "InvalidNode"
	case InvalidShape:
		return "InvalidShape"
	case InvalidType:
		return "InvalidType"
	case UnknownTensor:
		return "UnknownTensor"
	case MultipleProducers:
		return "MultipleProducers"
	case UnboundTensor:
		return "UnboundTensor"
	case Cycle:
		return "Cycle"
	default:
		return fmt.Sprintf("ValidationKind(%d)", int(k))
	}
}

// ValidationError reports a malformed graph. It is deterministic and fatal to
// graph construction.
type ValidationError struct {
	Kind   ValidationKind
	Name   string // offending tensor or node name
	Detail string
}

// Error implements error.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("graph validation: %s", e.Kind)
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is matches any ValidationError of the same kind, so the Err* sentinels work with errors.Is.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrDuplicateTensor   = &ValidationError{Kind: DuplicateTensor}
	ErrDuplicateNode     = &ValidationError{Kind: DuplicateNode}
	ErrInvalidNode       = &ValidationError{Kind: InvalidNode}
	ErrInvalidShape      = &ValidationError{Kind: InvalidShape}
	ErrInvalidType       = &ValidationError{Kind: InvalidType}
	ErrUnknownTensor     = &ValidationError{Kind: UnknownTensor}
	ErrMultipleProducers = &ValidationError{Kind: MultipleProducers}
	ErrUnboundTensor     = &ValidationError{Kind: UnboundTensor}
	ErrCycle             = &ValidationError{Kind: Cycle}
)

func invalid(kind ValidationKind, name, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Name: name, Detail: fmt.Sprintf(format, args...)}
}
