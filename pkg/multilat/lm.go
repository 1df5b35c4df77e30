package multilat

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

const (
	lmInitialDamping = 1e-3
	lmMinDamping     = 1e-12
	lmMaxDamping     = 1e12
	lmMinCurvature   = 1e-12
)

// residuals fills r with the per-pair range-difference errors at p and jac with
// their derivatives with respect to (x, y).
func (s *Solver) residuals(ranges []float64, p geometry.Point2, r []float64, jac *mat.Dense) {
	x := p.At(s.z)
	for k, pair := range s.pairs {
		mi, mj := s.mics[pair.I], s.mics[pair.J]
		di, dj := x.Distance(mi), x.Distance(mj)
		r[k] = di - dj - ranges[k]

		var gx, gy float64
		if di > 0 {
			gx += (x.X - mi.X) / di
			gy += (x.Y - mi.Y) / di
		}
		if dj > 0 {
			gx -= (x.X - mj.X) / dj
			gy -= (x.Y - mj.Y) / dj
		}
		jac.Set(k, 0, gx)
		jac.Set(k, 1, gy)
	}
}

// levenbergMarquardt runs damped Gauss-Newton with every trial point projected
// onto the bounds. A trial is accepted only if it lowers the loss.
func (s *Solver) levenbergMarquardt(ctx context.Context, ranges []float64, init geometry.Point2) (result, error) {
	m := len(s.pairs)
	r := make([]float64, m)
	rv := mat.NewVecDense(m, r)
	jac := mat.NewDense(m, 2, nil)

	var (
		jtj   mat.SymDense
		grad  mat.VecDense
		step  mat.VecDense
		chol  mat.Cholesky
		start = time.Now()
	)
	damped := mat.NewSymDense(2, nil)

	res := result{pos: init, loss: s.loss(ranges, init), evaluations: 1}
	lambda := lmInitialDamping

	for res.iterations < s.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if s.cfg.TimeBudget > 0 && time.Since(start) > s.cfg.TimeBudget {
			res.reason = "time budget exceeded"
			return res, nil
		}
		res.iterations++

		if res.loss == 0 {
			res.converged = true
			return res, nil
		}

		s.residuals(ranges, res.pos, r, jac)
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), rv)
		if mat.Norm(&grad, math.Inf(1)) == 0 {
			res.converged = true
			return res, nil
		}

		damped.CopySym(&jtj)
		for i := 0; i < 2; i++ {
			d := jtj.At(i, i)
			damped.SetSym(i, i, d+lambda*math.Max(d, lmMinCurvature))
		}
		if !chol.Factorize(damped) {
			lambda *= 10
			continue
		}
		if err := chol.SolveVecTo(&step, &grad); err != nil {
			lambda *= 10
			continue
		}

		trial := s.cfg.Bounds.Clamp(geometry.Point2{
			X: res.pos.X - step.AtVec(0),
			Y: res.pos.Y - step.AtVec(1),
		})
		trialLoss := s.loss(ranges, trial)
		res.evaluations++

		if trialLoss < res.loss {
			moved := trial.Distance(res.pos)
			res.pos, res.loss = trial, trialLoss
			lambda = math.Max(lambda/10, lmMinDamping)
			if moved < s.cfg.Tolerance {
				res.converged = true
				return res, nil
			}
			continue
		}

		// No descent from here even with tiny steps: a (possibly constrained) minimum.
		lambda *= 10
		if lambda > lmMaxDamping {
			res.converged = true
			return res, nil
		}
	}

	res.reason = "iteration limit reached"
	return res, nil
}
