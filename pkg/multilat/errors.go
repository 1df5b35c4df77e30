package multilat

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompletePairSet is returned when a delay is missing for any microphone pair.
	// The solve is not attempted.
	ErrIncompletePairSet = errors.New("multilat: incomplete pair set")

	// ErrNonConvergence is returned when the optimizer stops without a trustworthy fix.
	ErrNonConvergence = errors.New("multilat: solver did not converge")

	// ErrInvalidConfig is returned for a bad solver configuration.
	ErrInvalidConfig = errors.New("multilat: invalid config")
)

// ConvergenceError describes a failed solve. The Solution returned alongside it
// still carries the best position found.
type ConvergenceError struct {
	Method     Method
	Iterations int
	Residual   float64
	Reason     string
}

// Error implements the error interface.
func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("multilat: %s did not converge after %d iterations (residual %.4g): %s",
		e.Method, e.Iterations, e.Residual, e.Reason)
}

// Unwrap returns ErrNonConvergence.
func (e *ConvergenceError) Unwrap() error {
	return ErrNonConvergence
}
