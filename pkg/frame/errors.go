package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientChannelLength is returned when a channel is shorter than one frame.
	// No frames can be produced; it does not invalidate earlier results.
	ErrInsufficientChannelLength = errors.New("frame: channel shorter than frame length")

	// ErrNoChannels is returned when no channel buffers are supplied.
	ErrNoChannels = errors.New("frame: no channels")

	// ErrInvalidConfig is returned for a bad windowing configuration.
	ErrInvalidConfig = errors.New("frame: invalid config")
)

// LengthError reports which channel was too short.
type LengthError struct {
	Channel int
	Length  int
	Need    int
}

// Error implements the error interface.
func (e *LengthError) Error() string {
	return fmt.Sprintf("frame: channel %d has %d samples, need %d", e.Channel, e.Length, e.Need)
}

// Unwrap returns ErrInsufficientChannelLength.
func (e *LengthError) Unwrap() error {
	return ErrInsufficientChannelLength
}
