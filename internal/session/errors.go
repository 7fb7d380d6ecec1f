package session

import "fmt"

// CreationError reports why a session could not be created. Err is the
// underlying validation, shape, compile or device error.
type CreationError struct {
	Stage string // "configure", "resolve", "compile", "allocate" or "upload"
	Node  string // offending node, if any
	Err   error
}

// Error implements error.
func (e *CreationError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("create session: %s node %q: %v", e.Stage, e.Node, e.Err)
	}
	return fmt.Sprintf("create session: %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *CreationError) Unwrap() error {
	return e.Err
}

// RunErrorKind classifies a failed run.
type RunErrorKind int

// Run failure kinds.
const (
	Closed RunErrorKind = iota + 1
	Poisoned
	Busy
	MissingInput
	UnknownInput
	TypeMismatch
	InputShapeMismatch
	DeviceFailure
	Canceled
)

// String returns the kind name.
func (k RunErrorKind) String() string {
	switch k {
	case Closed:
		return "Closed"
	case Poisoned:
		return "Poisoned"
	case Busy:
		return "Busy"
	case MissingInput:
		return "MissingInput"
	case UnknownInput:
		return "UnknownInput"
	case TypeMismatch:
		return "TypeMismatch"
	case InputShapeMismatch:
		return "InputShapeMismatch"
	case DeviceFailure:
		return "DeviceFailure"
	case Canceled:
		return "Canceled"
	default:
		return fmt.Sprintf("RunErrorKind(%d)", int(k))
	}
}

// RunError reports a failed Run.
type RunError struct {
	Kind   RunErrorKind
	Name   string // offending tensor name, if any
	Detail string
	Err    error // device or context error, if any
}

// Error implements error.
func (e *RunError) Error() string {
	msg := "run: " + e.Kind.String()
	if e.Name != "" {
		msg += fmt.Sprintf(" %q", e.Name)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying device or context error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is matches sentinels of the same kind.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrClosed             = &RunError{Kind: Closed}
	ErrPoisoned           = &RunError{Kind: Poisoned}
	ErrBusy               = &RunError{Kind: Busy}
	ErrMissingInput       = &RunError{Kind: MissingInput}
	ErrUnknownInput       = &RunError{Kind: UnknownInput}
	ErrTypeMismatch       = &RunError{Kind: TypeMismatch}
	ErrInputShapeMismatch = &RunError{Kind: InputShapeMismatch}
	ErrDeviceFailure      = &RunError{Kind: DeviceFailure}
	ErrCanceled           = &RunError{Kind: Canceled}
)

func runError(kind RunErrorKind, name, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Name: name, Detail: fmt.Sprintf(format, args...)}
}
