package gccphat

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
)

// delayedPair returns y and x = y delayed by shift samples, both of length n,
// cut from one white-noise reference so no wraparound is involved.
func delayedPair(rng *rand.Rand, n, shift int) (x, y []float64) {
	margin := 1 + int(math.Abs(float64(shift)))
	ref := make([]float64, n+2*margin)
	for i := range ref {
		ref[i] = rng.NormFloat64()
	}
	y = ref[margin : margin+n]
	x = ref[margin-shift : margin-shift+n]
	return x, y
}

func addNoise(rng *rand.Rand, x []float64, snrDB float64) []float64 {
	var power float64
	for _, v := range x {
		power += v * v
	}
	power /= float64(len(x))
	sigma := math.Sqrt(power / math.Pow(10, snrDB/10))

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + sigma*rng.NormFloat64()
	}
	return out
}

func mustNew(t *testing.T, opts ...Option) *Estimator {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestFFTLength(t *testing.T) {
	tests := []struct{ n, want int }{
		{1, 1},
		{2, 4},
		{512, 1024},
		{1000, 2048},
		{1024, 2048},
		{1025, 4096},
	}
	for _, tt := range tests {
		if got := FFTLength(tt.n); got != tt.want {
			t.Errorf("FFTLength(%d) = %d, want %d", tt.n, got, tt.want)
		}
		if FFTLength(tt.n) < 2*tt.n-1 {
			t.Errorf("FFTLength(%d) too short for linear correlation", tt.n)
		}
	}
}

func TestEstimate_RecoversIntegerShiftNoiseless(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))
	e := mustNew(t)
	const maxTau = 40

	for shift := -maxTau; shift <= maxTau; shift += 5 {
		x, y := delayedPair(rng, 1024, shift)
		got, err := e.Estimate(x, y, maxTau)
		if err != nil {
			t.Fatalf("shift %d: %v", shift, err)
		}
		if got.Lag != shift {
			t.Errorf("shift %d: got lag %d", shift, got.Lag)
		}
		if got.Confidence <= 0 || got.Confidence > 1 {
			t.Errorf("shift %d: confidence %v out of (0, 1]", shift, got.Confidence)
		}
	}
}

func TestEstimate_WithinOneSampleAt20dB(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	e := mustNew(t)
	const maxTau = 53

	for _, shift := range []int{-53, -31, -4, 0, 9, 27, 53} {
		x, y := delayedPair(rng, 1024, shift)
		x = addNoise(rng, x, 20)
		y = addNoise(rng, y, 20)

		got, err := e.Estimate(x, y, maxTau)
		if err != nil {
			t.Fatalf("shift %d: %v", shift, err)
		}
		if d := got.Lag - shift; d < -1 || d > 1 {
			t.Errorf("shift %d: got lag %d, more than one sample off", shift, got.Lag)
		}
	}
}

func TestEstimate_AcceptsLagAtBoundary(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))
	e := mustNew(t)
	const maxTau = 25

	for _, shift := range []int{maxTau, -maxTau} {
		x, y := delayedPair(rng, 512, shift)
		got, err := e.Estimate(x, y, maxTau)
		if err != nil {
			t.Fatal(err)
		}
		if got.Lag != shift {
			t.Errorf("boundary shift %d: got %d", shift, got.Lag)
		}
	}
}

func TestEstimate_SwappedInputsNegateLag(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 2))
	e := mustNew(t)
	x, y := delayedPair(rng, 1024, 12)

	a, _ := e.Estimate(x, y, 30)
	b, _ := e.Estimate(y, x, 30)
	if a.Lag != 12 || b.Lag != -12 {
		t.Errorf("got %d and %d, want 12 and -12", a.Lag, b.Lag)
	}
}

func TestEstimate_UnweightedCrossCorrelation(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	e := mustNew(t, WithWeighting(None))
	if e.Weighting() != None {
		t.Fatalf("Weighting: got %v", e.Weighting())
	}

	x, y := delayedPair(rng, 1024, -17)
	got, err := e.Estimate(x, y, 40)
	if err != nil {
		t.Fatal(err)
	}
	if got.Lag != -17 {
		t.Errorf("got lag %d, want -17", got.Lag)
	}
}

func TestEstimate_ConfidenceIsNormalizedInWindow(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	e := mustNew(t)

	// True shift 100 is outside a window of ±10: the in-window best is noise.
	x, y := delayedPair(rng, 1024, 100)
	got, err := e.Estimate(x, y, 10)
	if err != nil {
		t.Fatal(err)
	}
	window, err := e.Correlate(x, y, 10)
	if err != nil {
		t.Fatal(err)
	}
	var windowMax float64
	for _, v := range window {
		windowMax = math.Max(windowMax, math.Abs(v))
	}
	if want := got.Peak / windowMax; math.Abs(got.Confidence-want) > 1e-12 {
		t.Errorf("confidence: got %v, want peak/max|window| = %v", got.Confidence, want)
	}
	if got.Dominance > 0.5 {
		t.Errorf("expected low dominance for an out-of-window shift, got %v", got.Dominance)
	}

	inside, _ := e.Estimate(x, y, 120)
	if inside.Lag != 100 || inside.Confidence < 0.99 || inside.Dominance < 0.99 {
		t.Errorf("full window: lag %d confidence %v dominance %v", inside.Lag, inside.Confidence, inside.Dominance)
	}
}

func TestEstimate_SilentInputDoesNotDivideByZero(t *testing.T) {
	e := mustNew(t)
	zeros := make([]float64, 256)

	got, err := e.Estimate(zeros, zeros, 10)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(got.Peak) || math.IsNaN(got.Confidence) {
		t.Errorf("NaN in estimate: %+v", got)
	}
	if got.Confidence != 0 {
		t.Errorf("expected zero confidence for silence, got %v", got.Confidence)
	}
}

func TestEstimate_Errors(t *testing.T) {
	e := mustNew(t)

	if _, err := e.Estimate(nil, []float64{1}, 1); !errors.Is(err, ErrEmptySignal) {
		t.Errorf("expected ErrEmptySignal, got %v", err)
	}
	if _, err := e.Estimate([]float64{1, 2}, []float64{1}, 1); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := e.Estimate([]float64{1, 2}, []float64{1, 2}, -1); !errors.Is(err, ErrInvalidMaxTau) {
		t.Errorf("expected ErrInvalidMaxTau, got %v", err)
	}
}

func TestCorrelate_ClampsOversizeWindow(t *testing.T) {
	e := mustNew(t)
	w, err := e.Correlate([]float64{1, 0, 0, 0}, []float64{0, 1, 0, 0}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(w) != 7 {
		t.Errorf("window length: got %d, want 7 (lags -3..3)", len(w))
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	if _, err := New(WithWeighting("scot")); err == nil {
		t.Error("expected error for unknown weighting")
	}
	if _, err := New(WithEpsilon(0)); err == nil {
		t.Error("expected error for zero epsilon")
	}
}

func TestEstimate_ConcurrentUse(t *testing.T) {
	e := mustNew(t)
	rng := rand.New(rand.NewPCG(21, 21))

	type job struct {
		x, y  []float64
		shift int
	}
	jobs := make([]job, 16)
	for i := range jobs {
		shift := i*3 - 24
		x, y := delayedPair(rng, 1024, shift)
		jobs[i] = job{x, y, shift}
	}

	var wg sync.WaitGroup
	errs := make([]string, len(jobs))
	for i, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Estimate(j.x, j.y, 30)
			if err != nil || got.Lag != j.shift {
				errs[i] = "mismatch"
			}
		}()
	}
	wg.Wait()

	for i, msg := range errs {
		if msg != "" {
			t.Errorf("job %d (shift %d): %s", i, jobs[i].shift, msg)
		}
	}
}
