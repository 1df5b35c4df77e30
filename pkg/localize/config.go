package localize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/multilat"
)

// GuessMode selects the solver's starting point for each frame.
type GuessMode string

const (
	// GuessCentroid starts every solve at the center of the search box.
	GuessCentroid GuessMode = "centroid"
	// GuessPrevious warm-starts from the last solved position, falling back to
	// the centroid until one exists.
	GuessPrevious GuessMode = "previous"
	// GuessFixed always starts at Config.FixedGuess.
	GuessFixed GuessMode = "fixed"
)

// Config holds session settings.
type Config struct {
	// SampleRate the recording must have, in Hz.
	SampleRate int

	// SpeedOfSound in array units per second.
	SpeedOfSound float64

	// Weighting for the delay estimator.
	Weighting gccphat.Weighting

	// MinConfidence drops pair delays whose confidence is below it. Zero keeps all.
	MinConfidence float64

	InitialGuess GuessMode
	FixedGuess   geometry.Point2

	// Workers bounds the goroutines used for the per-frame pair fan-out.
	// Zero uses one per pair.
	Workers int

	// Solver settings. SampleRate and SpeedOfSound are taken from this Config.
	Solver multilat.Config
}

// DefaultConfig returns 44.1 kHz, 343 m/s, PHAT weighting and a centroid start.
// Solver.Bounds must still be set.
func DefaultConfig() Config {
	return Config{
		SampleRate:   44100,
		SpeedOfSound: geometry.SpeedOfSoundMPS,
		Weighting:    gccphat.PHAT,
		InitialGuess: GuessCentroid,
		Solver:       multilat.DefaultConfig(),
	}
}

// Validate checks the configuration and fills the solver's shared fields.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.SpeedOfSound <= 0 {
		return fmt.Errorf("%w: speed of sound must be positive, got %v", ErrInvalidConfig, c.SpeedOfSound)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0, 1], got %v", ErrInvalidConfig, c.MinConfidence)
	}
	switch c.InitialGuess {
	case GuessCentroid, GuessPrevious, GuessFixed:
	case "":
		c.InitialGuess = GuessCentroid
	default:
		return fmt.Errorf("%w: unknown initial_guess %q", ErrInvalidConfig, string(c.InitialGuess))
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	c.Solver.SampleRate = c.SampleRate
	c.Solver.SpeedOfSound = c.SpeedOfSound
	return c.Solver.Validate()
}

// DelayEstimator computes one pairwise delay. *gccphat.Estimator implements it.
type DelayEstimator interface {
	Estimate(x, y []float64, maxTau int) (gccphat.DelayEstimate, error)
}

// PositionSolver solves one frame. *multilat.Solver implements it.
type PositionSolver interface {
	Solve(ctx context.Context, delays multilat.PairDelays, init geometry.Point2) (multilat.Solution, error)
}

// Option is a functional option for a Session.
type Option func(*Session)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithEstimator replaces the GCC-PHAT estimator built from Config.
func WithEstimator(e DelayEstimator) Option {
	return func(s *Session) {
		s.estimator = e
	}
}

// WithSolver replaces the multilateration solver built from Config.
func WithSolver(solver PositionSolver) Option {
	return func(s *Session) {
		s.solver = solver
	}
}

// WithTruth compares solved estimates against a ground-truth trajectory at the end of Run.
func WithTruth(truth accuracy.Trajectory) Option {
	return func(s *Session) {
		s.truth = &truth
	}
}

// WithRecordingStart stamps estimates with wall-clock times from this start.
func WithRecordingStart(t time.Time) Option {
	return func(s *Session) {
		s.recordingStart = t
	}
}

// WithSessionID overrides the generated session ID.
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// OnEstimate registers a callback for every position estimate, solved or failed.
// It runs on the Run goroutine.
func OnEstimate(fn func(PositionEstimate)) Option {
	return func(s *Session) {
		s.onEstimate = fn
	}
}

// OnFrame registers a callback for every frame result, in frame order.
// It runs on the Run goroutine.
func OnFrame(fn func(FrameResult)) Option {
	return func(s *Session) {
		s.onFrame = fn
	}
}
