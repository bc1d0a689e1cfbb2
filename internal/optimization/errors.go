package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies an optimization failure. Kinds are compared by errors.Is,
// so a wrapped *Error still matches the sentinel of its kind.
type Kind int

const (
	// KindUnknown is the zero Kind; it never matches a sentinel.
	KindUnknown Kind = iota
	// KindDimensionMismatch reports vectors or matrices of inconsistent length.
	KindDimensionMismatch
	// KindNonFiniteValue reports an objective, gradient or constraint returning NaN or Inf.
	KindNonFiniteValue
	// KindSingularSystem reports a numerically zero pivot. Linear solves recover
	// from it by regularization, so it never leaves a solver.
	KindSingularSystem
	// KindLineSearchFailure reports that no trial step satisfied the sufficient
	// decrease condition within the trial budget.
	KindLineSearchFailure
	// KindMaxIterations reports budget exhaustion. Drivers surface it as a Status.
	KindMaxIterations
	// KindInfeasibleStart reports a barrier start point that is not strictly feasible.
	KindInfeasibleStart
	// KindUnsupportedConstraint reports a constraint a driver cannot handle,
	// such as an equality constraint passed to the log barrier.
	KindUnsupportedConstraint
	// KindInvalidArgument reports a malformed configuration or problem.
	KindInvalidArgument
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindDimensionMismatch:     "dimension mismatch",
	KindNonFiniteValue:        "non-finite value",
	KindSingularSystem:        "singular system",
	KindLineSearchFailure:     "line search failure",
	KindMaxIterations:         "max iterations exceeded",
	KindInfeasibleStart:       "infeasible start",
	KindUnsupportedConstraint: "unsupported constraint",
	KindInvalidArgument:       "invalid argument",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind aborts a solve. Non-fatal kinds
// are absorbed into Result.Status.
func (k Kind) Fatal() bool {
	switch k {
	case KindSingularSystem, KindLineSearchFailure, KindMaxIterations:
		return false
	}
	return true
}

// Sentinel errors, one per Kind. Use errors.Is to test an error's kind.
var (
	ErrDimensionMismatch     = &Error{Kind: KindDimensionMismatch, Message: KindDimensionMismatch.String()}
	ErrNonFiniteValue        = &Error{Kind: KindNonFiniteValue, Message: KindNonFiniteValue.String()}
	ErrSingularSystem        = &Error{Kind: KindSingularSystem, Message: KindSingularSystem.String()}
	ErrLineSearchFailure     = &Error{Kind: KindLineSearchFailure, Message: KindLineSearchFailure.String()}
	ErrMaxIterations         = &Error{Kind: KindMaxIterations, Message: KindMaxIterations.String()}
	ErrInfeasibleStart       = &Error{Kind: KindInfeasibleStart, Message: KindInfeasibleStart.String()}
	ErrUnsupportedConstraint = &Error{Kind: KindUnsupportedConstraint, Message: KindUnsupportedConstraint.String()}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument, Message: KindInvalidArgument.String()}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same, known Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != KindUnknown && t.Kind == e.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context. The kind of a
// wrapped *Error is inherited. If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	kind := KindUnknown
	if inner, ok := IsOptimizationError(err); ok {
		kind = inner.Kind
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	return WrapError(err, fmt.Sprintf(format, args...))
}

// IsOptimizationError returns the first *Error in err's chain.
func IsOptimizationError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// DimensionError reports a length mismatch found by op in component.
func DimensionError(component, op string, got, want int) *Error {
	return NewErrorf(KindDimensionMismatch, "dimension mismatch: got %d, want %d", got, want).
		WithComponent(component).
		WithOperation(op)
}
