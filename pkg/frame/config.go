// Package frame slices synchronized multi-channel audio into fixed-length analysis
// frames and gates out frames that do not carry enough energy to localize.
package frame

import "fmt"

// SilencePolicy decides when a frame counts as silent.
type SilencePolicy string

const (
	// SilenceAny marks a frame silent when any channel is below the threshold.
	SilenceAny SilencePolicy = "any"
	// SilenceAll marks a frame silent only when every channel is below the threshold.
	// Partially quiet frames go on to delay estimation, where pairs touching a
	// quiet channel are dropped.
	SilenceAll SilencePolicy = "all"
)

// DefaultSilenceThreshold is one PCM16 step on the normalized [-1, 1] scale.
const DefaultSilenceThreshold = 1.0 / 32768

// Config holds windowing parameters.
type Config struct {
	// FrameLength is the analysis window in samples (sig_len).
	FrameLength int `yaml:"frame_length" json:"frame_length"`

	// HopLength is the step between consecutive frame starts, in samples.
	HopLength int `yaml:"hop_length" json:"hop_length"`

	// SilenceThreshold is the per-channel RMS below which a channel is quiet.
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// Policy selects how quiet channels make a frame silent.
	Policy SilencePolicy `yaml:"silence_policy" json:"silence_policy"`
}

// DefaultConfig returns the rig defaults: 1024-sample frames every 1000 samples.
func DefaultConfig() Config {
	return Config{
		FrameLength:      1024,
		HopLength:        1000,
		SilenceThreshold: DefaultSilenceThreshold,
		Policy:           SilenceAny,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.FrameLength <= 0 {
		return fmt.Errorf("%w: frame_length must be positive, got %d", ErrInvalidConfig, c.FrameLength)
	}
	if c.HopLength <= 0 {
		return fmt.Errorf("%w: hop_length must be positive, got %d", ErrInvalidConfig, c.HopLength)
	}
	if c.SilenceThreshold < 0 {
		return fmt.Errorf("%w: silence_threshold must not be negative, got %v", ErrInvalidConfig, c.SilenceThreshold)
	}
	switch c.Policy {
	case SilenceAny, SilenceAll:
	case "":
		c.Policy = SilenceAny
	default:
		return fmt.Errorf("%w: unknown silence_policy %q", ErrInvalidConfig, string(c.Policy))
	}
	return nil
}
