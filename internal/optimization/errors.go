package optimization

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the optimization core. Use errors.Is to classify
// an error returned from any package under internal/optimization.
var (
	// ErrConfiguration reports an unregistered name, a missing required
	// option or a malformed search space.
	ErrConfiguration = errors.New("configuration error")
	// ErrDimension reports an operation that needs a bound search space.
	ErrDimension = errors.New("dimensionality error")
	// ErrDataContract reports a caller bug such as mismatched row counts.
	ErrDataContract = errors.New("data contract violation")
	// ErrNumerical reports a linear-algebra failure (singular covariance).
	ErrNumerical = errors.New("numerical instability")
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
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

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
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

// NewError creates a new optimization error with the given message.
func NewError(message string) *Error {
	return &Error{
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ConfigErrorf builds an ErrConfiguration-classed error.
func ConfigErrorf(format string, args ...interface{}) *Error {
	return WrapErrorf(ErrConfiguration, format, args...)
}

// DataContractErrorf builds an ErrDataContract-classed error.
func DataContractErrorf(format string, args ...interface{}) *Error {
	return WrapErrorf(ErrDataContract, format, args...)
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// UnknownNameError is returned when a registry lookup fails. It never falls
// back to a default implementation.
type UnknownNameError struct {
	// Registry names the registry that was searched ("optimizer", "benchmark", ...).
	Registry string
	// Name is the key that was not found.
	Name string
}

func (e *UnknownNameError) Error() string {
	return fmt.Sprintf("%s %q not found in the registry", e.Registry, e.Name)
}

// Unwrap classifies the error as a configuration error.
func (e *UnknownNameError) Unwrap() error {
	return ErrConfiguration
}

// FitOutcome reports how a surrogate refit ended. Numerical instability is
// the only failure class the optimizer recovers from locally.
type FitOutcome int

const (
	// FitSuccess means the posterior and hyperparameters were updated.
	FitSuccess FitOutcome = iota
	// FitSkippedNumericalInstability means hyperparameter optimization hit a
	// singular covariance and the previous hyperparameters were kept.
	FitSkippedNumericalInstability
)

func (o FitOutcome) String() string {
	switch o {
	case FitSuccess:
		return "success"
	case FitSkippedNumericalInstability:
		return "skipped_numerical_instability"
	default:
		return fmt.Sprintf("FitOutcome(%d)", int(o))
	}
}
