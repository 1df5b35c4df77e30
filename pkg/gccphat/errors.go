package gccphat

import "errors"

var (
	// ErrEmptySignal is returned when either input has no samples.
	ErrEmptySignal = errors.New("gccphat: empty signal")

	// ErrLengthMismatch is returned when the two inputs differ in length.
	ErrLengthMismatch = errors.New("gccphat: signal length mismatch")

	// ErrInvalidMaxTau is returned for a negative lag bound.
	ErrInvalidMaxTau = errors.New("gccphat: invalid max_tau")
)
