package localize

import (
	"sync"

	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
)

// PairResult is the delay estimate for one microphone pair in one frame.
type PairResult struct {
	Pair     geometry.Pair         `json:"pair"`
	Estimate gccphat.DelayEstimate `json:"estimate"`

	// Dropped is set when the pair contributes no delay to the solve.
	Dropped bool   `json:"dropped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Err     error  `json:"-"`
}

// EstimatePairs runs the estimator over every pair concurrently, with at most
// workers goroutines (one per pair when workers <= 0). Channel slices are only
// read. Results are returned in pairs order.
func EstimatePairs(est DelayEstimator, channels [][]float64, pairs []geometry.Pair, maxTau, workers int) []PairResult {
	results := make([]PairResult, len(pairs))
	if len(pairs) == 0 {
		return results
	}
	if workers <= 0 || workers > len(pairs) {
		workers = len(pairs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p := pairs[i]
				r := PairResult{Pair: p}
				r.Estimate, r.Err = est.Estimate(channels[p.I], channels[p.J], maxTau)
				if r.Err != nil {
					r.Dropped = true
					r.Reason = r.Err.Error()
				}
				results[i] = r
			}
		}()
	}
	for i := range pairs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}
