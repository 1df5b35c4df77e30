// Package accuracy compares position estimates against a ground-truth trajectory.
package accuracy

import (
	"cmp"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// Sample is a position at a time offset from the start of the recording.
type Sample struct {
	Time     time.Duration   `json:"time"`
	Position geometry.Point2 `json:"position"`
}

// Trajectory is a time-ordered sequence of ground-truth samples.
type Trajectory struct {
	samples []Sample
}

// NewTrajectory copies and sorts samples by time.
func NewTrajectory(samples []Sample) Trajectory {
	s := slices.Clone(samples)
	slices.SortStableFunc(s, func(a, b Sample) int {
		return cmp.Compare(a.Time, b.Time)
	})
	return Trajectory{samples: s}
}

// Len returns the number of samples.
func (t Trajectory) Len() int {
	return len(t.samples)
}

// Samples returns a copy of the samples in time order.
func (t Trajectory) Samples() []Sample {
	return slices.Clone(t.samples)
}

// Nearest returns the sample closest in time to at. Ties go to the earlier sample.
func (t Trajectory) Nearest(at time.Duration) (Sample, bool) {
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	i, _ := slices.BinarySearchFunc(t.samples, at, func(s Sample, target time.Duration) int {
		return cmp.Compare(s.Time, target)
	})
	switch {
	case i == 0:
		return t.samples[0], true
	case i == len(t.samples):
		return t.samples[i-1], true
	}
	before, after := t.samples[i-1], t.samples[i]
	if at-before.Time <= after.Time-at {
		return before, true
	}
	return after, true
}

// Summary aggregates per-estimate position errors.
type Summary struct {
	Count  int     `json:"count"`
	RMSE   float64 `json:"rmse"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
	Max    float64 `json:"max"`

	// Errors holds the distance of each estimate to its nearest truth sample, in input order.
	Errors []float64 `json:"-"`
}

// Evaluate matches each estimate to the nearest-in-time truth sample and
// summarizes the distances. An empty input or truth yields a zero Summary.
func Evaluate(estimates []Sample, truth Trajectory) Summary {
	if len(estimates) == 0 || truth.Len() == 0 {
		return Summary{}
	}

	errs := make([]float64, len(estimates))
	var sq float64
	for i, est := range estimates {
		ref, _ := truth.Nearest(est.Time)
		errs[i] = est.Position.Distance(ref.Position)
		sq += errs[i] * errs[i]
	}

	sorted := slices.Clone(errs)
	slices.Sort(sorted)

	return Summary{
		Count:  len(errs),
		RMSE:   math.Sqrt(sq / float64(len(errs))),
		Mean:   stat.Mean(errs, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
		Errors: errs,
	}
}
