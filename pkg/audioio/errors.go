package audioio

import "errors"

var (
	// ErrNotWAV is returned when a file is not a RIFF/WAVE container.
	ErrNotWAV = errors.New("audioio: not a WAV file")

	// ErrUnsupportedFormat is returned for anything other than 16-bit PCM.
	ErrUnsupportedFormat = errors.New("audioio: unsupported WAV format")

	// ErrNoChannels is returned when a recording has no channels.
	ErrNoChannels = errors.New("audioio: recording has no channels")

	// ErrInvalidOffset is returned when alignment offsets do not fit the recording.
	ErrInvalidOffset = errors.New("audioio: invalid channel offset")
)
