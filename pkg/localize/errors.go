package localize

import "errors"

var (
	// ErrChannelMismatch is returned before streaming when the number of channels
	// differs from the number of microphones.
	ErrChannelMismatch = errors.New("localize: channel count does not match microphone count")

	// ErrSampleRateMismatch is returned before streaming when the recording's sample
	// rate differs from the configured one.
	ErrSampleRateMismatch = errors.New("localize: sample rate mismatch")

	// ErrAlreadyRunning is returned when Run is called on a session that is not idle.
	ErrAlreadyRunning = errors.New("localize: session already started")

	// ErrInvalidConfig is returned for a bad session configuration.
	ErrInvalidConfig = errors.New("localize: invalid config")
)
