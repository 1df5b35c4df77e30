package frame

import (
	"iter"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Frame is one analysis window across all channels.
// Channel slices alias the source buffers and must be treated as read-only.
type Frame struct {
	// Index is the frame's position in the sequence.
	Index int
	// Start is the sample index of the first sample in the window.
	Start int
	// SampleRate of the underlying recording, in Hz.
	SampleRate int
	// Channels holds one window per microphone, each of equal length.
	Channels [][]float64
	// RMS is the root-mean-square energy per channel.
	RMS []float64
	// Quiet flags channels whose RMS is below the silence threshold.
	Quiet []bool
	// Silent is true when the frame must not be localized.
	Silent bool
}

// Len returns the window length in samples.
func (f Frame) Len() int {
	if len(f.Channels) == 0 {
		return 0
	}
	return len(f.Channels[0])
}

// Offset returns the start time relative to the beginning of the recording.
func (f Frame) Offset() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Start) * time.Second / time.Duration(f.SampleRate)
}

// Seconds returns the start time in seconds.
func (f Frame) Seconds() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(f.Start) / float64(f.SampleRate)
}

// QuietCount returns how many channels are below the threshold.
func (f Frame) QuietCount() int {
	n := 0
	for _, q := range f.Quiet {
		if q {
			n++
		}
	}
	return n
}

// RMS returns the root-mean-square value of x, or 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

// Windower produces frames over a fixed set of channel buffers.
// It holds no iteration state, so Frames can be ranged over any number of times.
type Windower struct {
	channels   [][]float64
	sampleRate int
	cfg        Config
	length     int
	count      int
}

// NewWindower validates the configuration and channel buffers.
// Windows slide across the shortest channel; a trailing partial window is dropped
// rather than zero-padded. A channel shorter than one frame yields a *LengthError.
func NewWindower(channels [][]float64, sampleRate int, cfg Config) (*Windower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	shortest := len(channels[0])
	for c, ch := range channels {
		if len(ch) < cfg.FrameLength {
			return nil, &LengthError{Channel: c, Length: len(ch), Need: cfg.FrameLength}
		}
		shortest = min(shortest, len(ch))
	}

	return &Windower{
		channels:   channels,
		sampleRate: sampleRate,
		cfg:        cfg,
		length:     shortest,
		count:      (shortest-cfg.FrameLength)/cfg.HopLength + 1,
	}, nil
}

// Len returns the number of full frames.
func (w *Windower) Len() int {
	return w.count
}

// NumChannels returns the number of channels per frame.
func (w *Windower) NumChannels() int {
	return len(w.channels)
}

// SampleRate returns the sample rate in Hz.
func (w *Windower) SampleRate() int {
	return w.sampleRate
}

// Config returns the windowing configuration.
func (w *Windower) Config() Config {
	return w.cfg
}

// At builds frame i, computing per-channel energy and the silence flag.
func (w *Windower) At(i int) Frame {
	start := i * w.cfg.HopLength
	end := start + w.cfg.FrameLength

	f := Frame{
		Index:      i,
		Start:      start,
		SampleRate: w.sampleRate,
		Channels:   make([][]float64, len(w.channels)),
		RMS:        make([]float64, len(w.channels)),
		Quiet:      make([]bool, len(w.channels)),
	}

	quiet := 0
	for c, ch := range w.channels {
		win := ch[start:end:end]
		f.Channels[c] = win
		f.RMS[c] = RMS(win)
		if f.RMS[c] < w.cfg.SilenceThreshold {
			f.Quiet[c] = true
			quiet++
		}
	}

	switch w.cfg.Policy {
	case SilenceAll:
		f.Silent = quiet == len(w.channels)
	default:
		f.Silent = quiet > 0
	}
	return f
}

// Frames returns a lazy, finite sequence over all full frames in order.
func (w *Windower) Frames() iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		for i := 0; i < w.count; i++ {
			if !yield(w.At(i)) {
				return
			}
		}
	}
}
