package multilat

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// nelderMead minimizes the loss with gonum's simplex method. Points outside the
// bounds are evaluated at their projection plus the squared distance to it, so the
// simplex is pushed back inside and the returned position is always clamped.
func (s *Solver) nelderMead(ctx context.Context, ranges []float64, init geometry.Point2) (result, error) {
	bounds := s.cfg.Bounds
	objective := func(x []float64) float64 {
		p := geometry.Point2{X: x[0], Y: x[1]}
		c := bounds.Clamp(p)
		out := p.Distance(c)
		return s.loss(ranges, c) + out*out
	}

	problem := optimize.Problem{
		Func: objective,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations: s.cfg.MaxIterations,
		Runtime:         s.cfg.TimeBudget,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.cfg.Tolerance * s.cfg.Tolerance,
			Iterations: 20,
		},
	}
	method := &optimize.NelderMead{
		SimplexSize: 0.1 * math.Min(bounds.Width(), bounds.Length()),
	}

	out, err := optimize.Minimize(problem, []float64{init.X, init.Y}, settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result{pos: init, loss: s.loss(ranges, init)}, ctxErr
	}
	if out == nil {
		return result{pos: init, loss: s.loss(ranges, init), reason: err.Error()}, nil
	}

	pos := bounds.Clamp(geometry.Point2{X: out.X[0], Y: out.X[1]})
	res := result{
		pos:         pos,
		loss:        s.loss(ranges, pos),
		iterations:  out.MajorIterations,
		evaluations: out.FuncEvaluations,
		converged:   err == nil && !out.Status.Early(),
	}
	if !res.converged {
		res.reason = out.Status.String()
		if err != nil {
			res.reason = err.Error()
		}
	}
	return res, nil
}
