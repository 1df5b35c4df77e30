package multilat

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// Method selects the optimizer.
type Method string

const (
	// LevenbergMarquardt is a damped Gauss-Newton method with steps projected onto
	// the search box.
	LevenbergMarquardt Method = "lm"
	// NelderMead is the derivative-free simplex method on a box-clamped objective.
	NelderMead Method = "nelder-mead"
)

// Config holds solver settings. Lengths use the array's units.
type Config struct {
	// SampleRate of the delays, in Hz.
	SampleRate int

	// SpeedOfSound in array units per second.
	SpeedOfSound float64

	// Bounds is the physical extent the source must lie in.
	Bounds geometry.Bounds

	// SourceZ fixes the source height. When nil, microphones are projected onto
	// the plane and distances are computed in 2D.
	SourceZ *float64

	Method Method

	// MaxIterations caps optimizer iterations per solve.
	MaxIterations int

	// TimeBudget caps wall time per solve. Zero disables the limit.
	TimeBudget time.Duration

	// Tolerance is the step length, in array units, below which the solve has converged.
	Tolerance float64

	// MaxResidual rejects converged solves whose residual exceeds it. Zero disables the gate.
	MaxResidual float64
}

// DefaultConfig returns LM with a 100-iteration, 50ms budget.
// SampleRate, SpeedOfSound and Bounds have no sensible default and must be set.
func DefaultConfig() Config {
	return Config{
		Method:        LevenbergMarquardt,
		MaxIterations: 100,
		TimeBudget:    50 * time.Millisecond,
		Tolerance:     1e-6,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.SpeedOfSound <= 0 {
		return fmt.Errorf("%w: speed of sound must be positive, got %v", ErrInvalidConfig, c.SpeedOfSound)
	}
	if err := c.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Method {
	case LevenbergMarquardt, NelderMead:
	case "":
		c.Method = LevenbergMarquardt
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidConfig, string(c.Method))
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max_iterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.TimeBudget < 0 {
		return fmt.Errorf("%w: time_budget must not be negative", ErrInvalidConfig)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive, got %v", ErrInvalidConfig, c.Tolerance)
	}
	if c.MaxResidual < 0 {
		return fmt.Errorf("%w: max_residual must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option is a functional option for the solver.
type Option func(*Solver)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Solver) {
		s.logger = logger
	}
}
