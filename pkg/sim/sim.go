// Package sim renders synthetic microphone recordings of a moving sound source.
//
// The source emits white noise, mixed with a tone at the beep frequency, while
// a beep is active and nothing otherwise. Each microphone hears the source
// delayed by its propagation time (fractional delays by linear interpolation)
// plus independent sensor noise at the configured SNR.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/rig"
)

// ErrInvalidConfig is returned for unusable render settings.
var ErrInvalidConfig = errors.New("sim: invalid config")

// Config holds render settings. Lengths use the array's units.
type Config struct {
	SampleRate   int     `yaml:"sample_rate"`
	SpeedOfSound float64 `yaml:"speed_of_sound"`

	// Amplitude of the source signal on the normalized [-1, 1] scale.
	Amplitude float64 `yaml:"amplitude"`

	// ToneMix is the share of the beep tone in the source; the rest is noise.
	ToneMix float64 `yaml:"tone_mix"`

	// SNR of each microphone signal in dB. Zero or negative disables sensor noise.
	SNR float64 `yaml:"snr"`

	// SourceZ is the source height.
	SourceZ float64 `yaml:"source_z"`

	// Seed makes renders reproducible.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns 44.1 kHz in meters with a 30 dB SNR.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		SpeedOfSound: geometry.SpeedOfSoundMPS,
		Amplitude:    0.3,
		ToneMix:      0.3,
		SNR:          30,
		Seed:         1,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if c.SpeedOfSound <= 0 {
		return fmt.Errorf("%w: speed of sound must be positive", ErrInvalidConfig)
	}
	if c.Amplitude <= 0 || c.Amplitude > 1 {
		return fmt.Errorf("%w: amplitude must be in (0, 1], got %v", ErrInvalidConfig, c.Amplitude)
	}
	if c.ToneMix < 0 || c.ToneMix > 1 {
		return fmt.Errorf("%w: tone_mix must be in [0, 1], got %v", ErrInvalidConfig, c.ToneMix)
	}
	return nil
}

// Source describes where the source is and what it plays at each offset.
type Source interface {
	// At returns the source position and beep frequency (0 for silence) at t.
	At(t time.Duration) (geometry.Point2, int)
	Duration() time.Duration
}

// PlanSource plays a robot action plan.
type PlanSource struct {
	Plan rig.Plan
}

// At implements Source.
func (s PlanSource) At(t time.Duration) (geometry.Point2, int) {
	return s.Plan.Actions.PoseAt(s.Plan.Start, s.Plan.Motion, t).Position, s.Plan.Actions.BeepAt(s.Plan.Motion, t)
}

// Duration implements Source.
func (s PlanSource) Duration() time.Duration {
	return s.Plan.Actions.Duration(s.Plan.Motion)
}

// Static is a fixed source beeping for a set time.
type Static struct {
	Position geometry.Point2
	Hz       int
	Length   time.Duration
}

// At implements Source.
func (s Static) At(time.Duration) (geometry.Point2, int) { return s.Position, s.Hz }

// Duration implements Source.
func (s Static) Duration() time.Duration { return s.Length }

// Render synthesizes one channel per microphone.
func Render(array *geometry.Array, src Source, cfg Config) (*audioio.Recording, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs := float64(cfg.SampleRate)
	n := int(src.Duration().Seconds() * fs)
	if n <= 0 {
		return nil, fmt.Errorf("%w: source has no duration", ErrInvalidConfig)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	// Emitted signal, padded in front so the farthest microphone has history.
	pad := int(math.Ceil(array.MaxPairwiseDistance()*4/cfg.SpeedOfSound*fs)) + 2
	emitted := make([]float64, n+pad)
	positions := make([]geometry.Point2, n)
	phase := 0.0
	for k := range n {
		t := time.Duration(float64(k) / fs * float64(time.Second))
		p, hz := src.At(t)
		positions[k] = p
		if hz <= 0 {
			continue
		}
		phase += 2 * math.Pi * float64(hz) / fs
		tone := math.Sin(phase)
		noise := rng.NormFloat64() / 3
		emitted[k+pad] = cfg.Amplitude * (cfg.ToneMix*tone + (1-cfg.ToneMix)*noise)
	}

	rec := &audioio.Recording{SampleRate: cfg.SampleRate, Channels: make([][]float64, array.Len())}
	for m := range array.Len() {
		mic := array.At(m)
		ch := make([]float64, n)
		for k := range n {
			delay := positions[k].At(cfg.SourceZ).Distance(mic) / cfg.SpeedOfSound * fs
			ch[k] = sampleAt(emitted, float64(k+pad)-delay)
		}
		rec.Channels[m] = ch
	}

	if cfg.SNR > 0 {
		addNoise(rng, rec.Channels, cfg.SNR)
	}
	for _, ch := range rec.Channels {
		for k, v := range ch {
			ch[k] = math.Max(-1, math.Min(1, v))
		}
	}
	return rec, nil
}

// sampleAt linearly interpolates x at fractional index pos; outside is zero.
func sampleAt(x []float64, pos float64) float64 {
	if pos < 0 {
		return 0
	}
	i := int(pos)
	if i >= len(x)-1 {
		if i == len(x)-1 {
			return x[i]
		}
		return 0
	}
	frac := pos - float64(i)
	return x[i]*(1-frac) + x[i+1]*frac
}

// addNoise adds white noise to each channel at snr dB relative to its active power.
func addNoise(rng *rand.Rand, channels [][]float64, snr float64) {
	for _, ch := range channels {
		var power float64
		var active int
		for _, v := range ch {
			if v != 0 {
				power += v * v
				active++
			}
		}
		if active == 0 {
			continue
		}
		sigma := math.Sqrt(power / float64(active) / math.Pow(10, snr/10))
		for k := range ch {
			ch[k] += sigma * rng.NormFloat64()
		}
	}
}

// ToPCM converts a recording to PCM16 channels for WAV output.
func ToPCM(rec *audioio.Recording) [][]int16 {
	out := make([][]int16, len(rec.Channels))
	for c, ch := range rec.Channels {
		out[c] = audioio.Denormalize(ch)
	}
	return out
}
