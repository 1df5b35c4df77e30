// Package multilat solves for a 2D source position from pairwise TDOA measurements.
//
// Each pairwise delay becomes a range difference Δd_ij = delay/fs·c, and the solver
// minimizes the sum over all pairs of (‖x − mic_i‖ − ‖x − mic_j‖ − Δd_ij)² inside
// a box matching the physical room.
package multilat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// PairDelays maps a microphone pair (I < J) to its delay in samples.
// A positive delay means the sound reached microphone I later than J.
type PairDelays map[geometry.Pair]float64

// Solution is the result of one solve.
type Solution struct {
	Position geometry.Point2 `json:"position"`

	// Residual is the loss at Position: the sum of squared range-difference
	// errors, in squared array units.
	Residual float64 `json:"residual"`

	Iterations  int           `json:"iterations"`
	Evaluations int           `json:"evaluations"`
	Elapsed     time.Duration `json:"elapsed"`
	Converged   bool          `json:"converged"`
}

// RangeDifference converts a delay in samples to a distance in the units of c.
func RangeDifference(delaySamples float64, sampleRate int, speedOfSound float64) float64 {
	return delaySamples / float64(sampleRate) * speedOfSound
}

// Loss returns the sum over pairs of (‖x − mic_i‖ − ‖x − mic_j‖ − Δd_ij)².
// ranges is indexed like pairs.
func Loss(mics []geometry.Point, pairs []geometry.Pair, ranges []float64, x geometry.Point) float64 {
	var sum float64
	for k, p := range pairs {
		r := x.Distance(mics[p.I]) - x.Distance(mics[p.J]) - ranges[k]
		sum += r * r
	}
	return sum
}

// Solver localizes a source for a fixed array. It is safe for concurrent use.
type Solver struct {
	cfg    Config
	pairs  []geometry.Pair
	mics   []geometry.Point
	z      float64
	logger *slog.Logger
}

// New validates cfg against the array and builds a solver.
func New(array *geometry.Array, cfg Config, opts ...Option) (*Solver, error) {
	if array == nil {
		return nil, fmt.Errorf("%w: nil array", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Solver{
		cfg:    cfg,
		pairs:  array.Pairs(),
		mics:   array.Positions(),
		logger: slog.Default(),
	}
	if cfg.SourceZ != nil {
		s.z = *cfg.SourceZ
	} else {
		for i := range s.mics {
			s.mics[i].Z = 0
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Config returns the solver configuration.
func (s *Solver) Config() Config {
	return s.cfg
}

// Bounds returns the search box.
func (s *Solver) Bounds() geometry.Bounds {
	return s.cfg.Bounds
}

// Loss evaluates the objective for delays at p.
func (s *Solver) Loss(delays PairDelays, p geometry.Point2) (float64, error) {
	ranges, err := s.ranges(delays)
	if err != nil {
		return 0, err
	}
	return s.loss(ranges, p), nil
}

func (s *Solver) loss(ranges []float64, p geometry.Point2) float64 {
	return Loss(s.mics, s.pairs, ranges, p.At(s.z))
}

// ranges converts delays to range differences in pair order. Every pair of the
// array must be present.
func (s *Solver) ranges(delays PairDelays) ([]float64, error) {
	ranges := make([]float64, len(s.pairs))
	var missing []geometry.Pair
	for k, p := range s.pairs {
		d, ok := delays[p]
		if !ok {
			missing = append(missing, p)
			continue
		}
		ranges[k] = RangeDifference(d, s.cfg.SampleRate, s.cfg.SpeedOfSound)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: have %d of %d pairs, missing %v",
			ErrIncompletePairSet, len(s.pairs)-len(missing), len(s.pairs), missing)
	}
	return ranges, nil
}

// Solve finds the position most consistent with delays, starting from init
// (clamped into the bounds).
//
// A missing pair returns ErrIncompletePairSet without running the optimizer.
// A solve that exhausts its budget or exceeds MaxResidual returns its best
// position together with a *ConvergenceError. Cancellation of ctx returns ctx.Err().
func (s *Solver) Solve(ctx context.Context, delays PairDelays, init geometry.Point2) (Solution, error) {
	ranges, err := s.ranges(delays)
	if err != nil {
		return Solution{}, err
	}

	start := time.Now()
	init = s.cfg.Bounds.Clamp(init)

	var (
		res    result
		runErr error
	)
	switch s.cfg.Method {
	case NelderMead:
		res, runErr = s.nelderMead(ctx, ranges, init)
	default:
		res, runErr = s.levenbergMarquardt(ctx, ranges, init)
	}

	sol := Solution{
		Position:    res.pos,
		Residual:    res.loss,
		Iterations:  res.iterations,
		Evaluations: res.evaluations,
		Elapsed:     time.Since(start),
		Converged:   res.converged,
	}
	if runErr != nil {
		return sol, runErr
	}

	if !sol.Converged {
		return sol, &ConvergenceError{
			Method:     s.cfg.Method,
			Iterations: sol.Iterations,
			Residual:   sol.Residual,
			Reason:     res.reason,
		}
	}
	if s.cfg.MaxResidual > 0 && sol.Residual > s.cfg.MaxResidual {
		sol.Converged = false
		return sol, &ConvergenceError{
			Method:     s.cfg.Method,
			Iterations: sol.Iterations,
			Residual:   sol.Residual,
			Reason:     fmt.Sprintf("residual above max_residual %.4g", s.cfg.MaxResidual),
		}
	}

	s.logger.Debug("solved",
		"method", s.cfg.Method,
		"position", sol.Position.String(),
		"residual", sol.Residual,
		"iterations", sol.Iterations,
	)
	return sol, nil
}

// result is what an optimizer run reports back to Solve.
type result struct {
	pos         geometry.Point2
	loss        float64
	iterations  int
	evaluations int
	converged   bool
	reason      string
}

// Pairs returns the pairs the solver expects, in order.
func (s *Solver) Pairs() []geometry.Pair {
	return slices.Clone(s.pairs)
}
