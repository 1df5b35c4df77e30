package geometry

import "errors"

var (
	// ErrDegenerateGeometry is returned when fewer than three microphones are supplied.
	ErrDegenerateGeometry = errors.New("geometry: degenerate microphone array")

	// ErrCoincidentMicrophones is returned when two microphones share a position.
	ErrCoincidentMicrophones = errors.New("geometry: coincident microphones")

	// ErrUnknownUnits is returned for a length unit other than m or cm.
	ErrUnknownUnits = errors.New("geometry: unknown units")

	// ErrInvalidBounds is returned for an empty or non-finite search box.
	ErrInvalidBounds = errors.New("geometry: invalid bounds")
)
