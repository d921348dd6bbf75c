package scanning

import (
	"errors"
	"fmt"
)

// Recognition failure kinds
var (
	// ErrDecode is returned when no raster can be built from the source data.
	ErrDecode = errors.New("image could not be decoded")

	// ErrEngineInit is returned when the math engine's model data cannot be
	// staged or none of its models loads.
	ErrEngineInit = errors.New("math engine initialization failed")

	// ErrRecognition is returned when an engine reports a runtime failure.
	ErrRecognition = errors.New("recognition failed")

	// ErrEmptyResult is returned when recognition succeeded but produced
	// nothing usable.
	ErrEmptyResult = errors.New("no usable recognition output")
)

// ScanError wraps a failure kind with the operation that produced it.
type ScanError struct {
	// Op is the operation that failed (e.g., "DecodeRaster", "Initialize").
	Op string

	// Err is the underlying error. It always matches one of the kinds above.
	Err error

	// Details is a user-facing description of the failure.
	Details string
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("scanning: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("scanning: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// Is implements error matching against the failure kinds.
func (e *ScanError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError builds a ScanError of the given kind, keeping cause in the chain.
func NewError(op string, kind error, cause error, details string) *ScanError {
	err := kind
	if cause != nil {
		err = fmt.Errorf("%w: %w", kind, cause)
	}
	return &ScanError{Op: op, Err: err, Details: details}
}

// Details returns the user-facing description of err, or its message when it
// carries none.
func Details(err error) string {
	var scanErr *ScanError
	if errors.As(err, &scanErr) && scanErr.Details != "" {
		return scanErr.Details
	}
	return err.Error()
}
