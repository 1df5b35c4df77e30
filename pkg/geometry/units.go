package geometry

import "fmt"

// Units is the length unit shared by microphone positions, bounds and speed of sound.
type Units string

const (
	// Meters is the SI unit. Speed of sound ≈ 343 m/s.
	Meters Units = "m"
	// Centimeters matches the rig's tape-measured layouts. Speed of sound ≈ 34300 cm/s.
	Centimeters Units = "cm"
)

// SpeedOfSoundMPS is the speed of sound in dry air at ~20°C.
const SpeedOfSoundMPS = 343.0

// Validate checks that u is a known unit.
func (u Units) Validate() error {
	switch u {
	case Meters, Centimeters:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUnits, string(u))
	}
}

// PerMeter returns how many units fit in one meter.
func (u Units) PerMeter() float64 {
	if u == Centimeters {
		return 100
	}
	return 1
}

// DefaultSpeedOfSound returns 343 m/s expressed in u per second.
func (u Units) DefaultSpeedOfSound() float64 {
	return SpeedOfSoundMPS * u.PerMeter()
}
