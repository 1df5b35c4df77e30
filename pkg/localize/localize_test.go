package localize

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/frame"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/multilat"
)

const (
	testRate  = 44100
	testSpeed = 34300.0 // cm/s
)

// spySolver records every call and returns a fixed answer.
type spySolver struct {
	mu    sync.Mutex
	calls []geometry.Point2
	sol   multilat.Solution
	err   error
}

func (s *spySolver) Solve(_ context.Context, _ multilat.PairDelays, init geometry.Point2) (multilat.Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, init)
	return s.sol, s.err
}

func (s *spySolver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubEstimator returns lag 0 with a fixed confidence for every pair.
type stubEstimator struct {
	confidence float64
}

func (e stubEstimator) Estimate(x, y []float64, maxTau int) (gccphat.DelayEstimate, error) {
	return gccphat.DelayEstimate{Lag: 0, Confidence: e.confidence, Peak: e.confidence}, nil
}

func arena(t *testing.T) *geometry.Array {
	t.Helper()
	a, err := geometry.New(geometry.SquareArena(), geometry.Centimeters)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func arenaConfig(t *testing.T) Config {
	t.Helper()
	b, err := geometry.BoundsFor(geometry.CenteredConvention, 330, 250)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.SpeedOfSound = testSpeed
	cfg.Solver.Bounds = b
	cfg.Solver.TimeBudget = 0
	cfg.Solver.MaxIterations = 200
	return cfg
}

func frameConfig() frame.Config {
	return frame.Config{FrameLength: 1024, HopLength: 1000, SilenceThreshold: 1e-3, Policy: frame.SilenceAny}
}

// synthesize renders white noise from src into one channel per microphone,
// delayed by the rounded propagation time.
func synthesize(rng *rand.Rand, a *geometry.Array, src geometry.Point, n int) [][]float64 {
	const pad = 1000
	ref := make([]float64, n+pad)
	for i := range ref {
		ref[i] = 0.3 * rng.NormFloat64()
	}
	channels := make([][]float64, a.Len())
	for m := range channels {
		delay := int(math.Round(src.Distance(a.At(m)) / testSpeed * testRate))
		channels[m] = make([]float64, n)
		copy(channels[m], ref[pad-delay:pad-delay+n])
	}
	return channels
}

func windower(t *testing.T, channels [][]float64) *frame.Windower {
	t.Helper()
	w, err := frame.NewWindower(channels, testRate, frameConfig())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func newSession(t *testing.T, cfg Config, opts ...Option) *Session {
	t.Helper()
	s, err := New(cfg, arena(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestRun_LocalizesSyntheticSource(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := arena(t)
	src := geometry.Point{X: 60, Y: -40, Z: 30}
	channels := synthesize(rng, a, src, 10*1000+24)

	var streamed []PositionEstimate
	s := newSession(t, arenaConfig(t), OnEstimate(func(e PositionEstimate) {
		streamed = append(streamed, e)
	}))

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if report.Frames != 10 || report.Solved != 10 {
		t.Fatalf("report: %+v", report)
	}
	if s.State() != Done {
		t.Errorf("state = %v", s.State())
	}
	if len(streamed) != 10 || len(s.Estimates()) != 10 {
		t.Errorf("streamed %d, stored %d", len(streamed), len(s.Estimates()))
	}
	for _, e := range report.Estimates {
		if d := e.Position.Distance(src.XY()); d > 5 {
			t.Errorf("frame %d: %v is %.2f cm from source", e.Frame, e.Position, d)
		}
	}
	if report.SessionID == "" || report.SessionID != s.ID() {
		t.Errorf("session id %q vs %q", report.SessionID, s.ID())
	}
}

func TestRun_SilentFramesNeverReachSolver(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	a := arena(t)
	channels := synthesize(rng, a, geometry.Point{Z: 30}, 6*1000+24)
	// Frames 0-2 start inside the first 3000 samples; zero them on every channel.
	for _, ch := range channels {
		clear(ch[:3024])
	}

	spy := &spySolver{sol: multilat.Solution{Converged: true}}
	var statuses []FrameStatus
	s := newSession(t, arenaConfig(t), WithSolver(spy), OnFrame(func(r FrameResult) {
		statuses = append(statuses, r.Status)
	}))

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	want := []FrameStatus{Silent, Silent, Silent, Solved, Solved, Solved}
	if len(statuses) != len(want) {
		t.Fatalf("statuses %v", statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("frame %d: %v, want %v", i, statuses[i], want[i])
		}
	}
	if spy.Calls() != 3 || report.Silent != 3 {
		t.Errorf("solver calls %d, silent %d", spy.Calls(), report.Silent)
	}
}

func TestRun_LowConfidencePairsSkipFrame(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 3*1000+24)

	cfg := arenaConfig(t)
	cfg.MinConfidence = 0.5
	spy := &spySolver{}
	s := newSession(t, cfg, WithSolver(spy), WithEstimator(stubEstimator{confidence: 0.2}))

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 3 || spy.Calls() != 0 {
		t.Errorf("skipped %d, solver calls %d", report.Skipped, spy.Calls())
	}
	if len(report.Estimates) != 0 {
		t.Errorf("skipped frames produced estimates: %v", report.Estimates)
	}
}

func TestRun_QuietChannelUnderAllPolicySkips(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 2*1000+24)
	clear(channels[2])

	fc := frameConfig()
	fc.Policy = frame.SilenceAll
	w, err := frame.NewWindower(channels, testRate, fc)
	if err != nil {
		t.Fatal(err)
	}

	spy := &spySolver{}
	var results []FrameResult
	s := newSession(t, arenaConfig(t), WithSolver(spy), OnFrame(func(r FrameResult) {
		results = append(results, r)
	}))
	report, err := s.Run(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 2 || report.Silent != 0 || spy.Calls() != 0 {
		t.Fatalf("report %+v, solver calls %d", report, spy.Calls())
	}

	dropped := 0
	for _, p := range results[0].Pairs {
		if p.Dropped {
			dropped++
		}
	}
	if dropped != 3 || len(results[0].Pairs) != 6 {
		t.Errorf("expected 3 of 6 pairs dropped for channel 2, got %d of %d", dropped, len(results[0].Pairs))
	}
}

func TestRun_FailedFramesKeepFlaggedEstimate(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 3*1000+24)

	spy := &spySolver{
		sol: multilat.Solution{Position: geometry.Point2{X: 1, Y: 2}, Residual: 99},
		err: &multilat.ConvergenceError{Method: multilat.LevenbergMarquardt, Iterations: 100, Residual: 99, Reason: "iteration limit reached"},
	}
	s := newSession(t, arenaConfig(t), WithSolver(spy))

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 3 || report.Frames != 3 {
		t.Fatalf("report %+v", report)
	}
	for _, e := range report.Estimates {
		if e.Status != Failed || e.Position != (geometry.Point2{X: 1, Y: 2}) {
			t.Errorf("estimate %+v", e)
		}
	}
}

func TestRun_WarmStartsFromPrevious(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 3*1000+24)

	cfg := arenaConfig(t)
	cfg.InitialGuess = GuessPrevious
	spy := &spySolver{sol: multilat.Solution{Position: geometry.Point2{X: 7, Y: -3}, Converged: true}}
	s := newSession(t, cfg, WithSolver(spy))

	if _, err := s.Run(context.Background(), windower(t, channels)); err != nil {
		t.Fatal(err)
	}
	if len(spy.calls) != 3 {
		t.Fatalf("calls %d", len(spy.calls))
	}
	if spy.calls[0] != cfg.Solver.Bounds.Center() {
		t.Errorf("first guess %v, want centroid", spy.calls[0])
	}
	for _, c := range spy.calls[1:] {
		if c != (geometry.Point2{X: 7, Y: -3}) {
			t.Errorf("warm start guess %v", c)
		}
	}
}

func TestRun_StopKeepsPartialSeries(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 8*1000+24)

	spy := &spySolver{sol: multilat.Solution{Converged: true}}
	var s *Session
	s = newSession(t, arenaConfig(t), WithSolver(spy), OnFrame(func(r FrameResult) {
		if r.Index == 1 {
			s.Stop()
		}
	}))

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Stopped || report.Frames != 2 || len(report.Estimates) != 2 {
		t.Errorf("report %+v", report)
	}
	if s.State() != Done {
		t.Errorf("state %v", s.State())
	}
}

func TestStop_BeforeRunIsHonored(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 18))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 3*1000+24)

	spy := &spySolver{}
	s := newSession(t, arenaConfig(t), WithSolver(spy))
	s.Stop()

	report, err := s.Run(context.Background(), windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Stopped || report.Frames != 0 || spy.Calls() != 0 {
		t.Errorf("report %+v, calls %d", report, spy.Calls())
	}
	if s.State() != Done {
		t.Errorf("state %v", s.State())
	}
}

func TestRun_CancelledContext(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 3*1000+24)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spy := &spySolver{}
	s := newSession(t, arenaConfig(t), WithSolver(spy))
	report, err := s.Run(ctx, windower(t, channels))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Stopped || report.Frames != 0 || spy.Calls() != 0 {
		t.Errorf("report %+v, calls %d", report, spy.Calls())
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 18))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 2048)

	s := newSession(t, arenaConfig(t))
	if _, err := s.Run(context.Background(), windower(t, channels[:3])); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("expected ErrChannelMismatch, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("configuration error must not start the session, state %v", s.State())
	}

	w, err := frame.NewWindower(channels, 48000, frameConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), w); !errors.Is(err, ErrSampleRateMismatch) {
		t.Errorf("expected ErrSampleRateMismatch, got %v", err)
	}

	if _, err := New(arenaConfig(t), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("nil array: %v", err)
	}
	_, err = geometry.New(geometry.SquareArena()[:2], geometry.Centimeters)
	if !errors.Is(err, geometry.ErrDegenerateGeometry) {
		t.Errorf("two microphones: %v", err)
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	rng := rand.New(rand.NewPCG(19, 20))
	channels := synthesize(rng, arena(t), geometry.Point{Z: 30}, 2048)
	s := newSession(t, arenaConfig(t), WithSolver(&spySolver{}))

	if _, err := s.Run(context.Background(), windower(t, channels)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Run(context.Background(), windower(t, channels)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunRecording_ShortRecordingIsNotFatal(t *testing.T) {
	rec := &audioio.Recording{
		SampleRate: testRate,
		Channels:   [][]float64{make([]float64, 100), make([]float64, 100), make([]float64, 100), make([]float64, 100)},
	}
	s := newSession(t, arenaConfig(t))

	report, err := s.RunRecording(context.Background(), rec, frameConfig())
	if err != nil {
		t.Fatal(err)
	}
	if report.Frames != 0 || s.State() != Done {
		t.Errorf("report %+v, state %v", report, s.State())
	}
}

func TestRunRecording_StampsAndEvaluates(t *testing.T) {
	rng := rand.New(rand.NewPCG(21, 22))
	a := arena(t)
	src := geometry.Point{X: -90, Y: 50, Z: 30}
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &audioio.Recording{
		SampleRate: testRate,
		Start:      start,
		Channels:   synthesize(rng, a, src, 4*1000+24),
	}
	truth := accuracy.NewTrajectory([]accuracy.Sample{{Time: 0, Position: src.XY()}})

	s := newSession(t, arenaConfig(t), WithTruth(truth))
	report, err := s.RunRecording(context.Background(), rec, frameConfig())
	if err != nil {
		t.Fatal(err)
	}
	if report.Accuracy == nil || report.Accuracy.Count != report.Solved || report.Accuracy.RMSE > 5 {
		t.Fatalf("accuracy %+v, solved %d", report.Accuracy, report.Solved)
	}
	last := report.Estimates[len(report.Estimates)-1]
	if want := start.Add(last.Time); !last.Timestamp.Equal(want) {
		t.Errorf("timestamp %v, want %v", last.Timestamp, want)
	}
}

func TestEstimatePairs_OrderAndBoundedWorkers(t *testing.T) {
	rng := rand.New(rand.NewPCG(23, 24))
	a := arena(t)
	src := geometry.Point{X: 100, Y: 70, Z: 30}
	channels := synthesize(rng, a, src, 1024)

	est, err := gccphat.New()
	if err != nil {
		t.Fatal(err)
	}
	maxTau := a.MaxTau(testRate, testSpeed)
	for _, workers := range []int{0, 1, 2, 100} {
		results := EstimatePairs(est, channels, a.Pairs(), maxTau, workers)
		if len(results) != 6 {
			t.Fatalf("workers %d: %d results", workers, len(results))
		}
		for k, r := range results {
			if r.Pair != a.Pairs()[k] {
				t.Errorf("workers %d: result %d is pair %v", workers, k, r.Pair)
			}
			want := a.DelaySamples(src, r.Pair.I, r.Pair.J, testRate, testSpeed)
			if math.Abs(float64(r.Estimate.Lag)-want) > 1.5 {
				t.Errorf("pair %v: lag %d, geometric %.2f", r.Pair, r.Estimate.Lag, want)
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := arenaConfig(t)
	cfg.InitialGuess = "random"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = arenaConfig(t)
	cfg.MinConfidence = 1.5
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	cfg = arenaConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Solver.SampleRate != cfg.SampleRate || cfg.Solver.SpeedOfSound != cfg.SpeedOfSound {
		t.Errorf("solver config not filled: %+v", cfg.Solver)
	}
}

func TestFrameStatus_Text(t *testing.T) {
	for _, s := range []FrameStatus{Silent, Solved, Skipped, Failed} {
		b, _ := s.MarshalText()
		var back FrameStatus
		if err := back.UnmarshalText(b); err != nil || back != s {
			t.Errorf("%v: got %v, %v", s, back, err)
		}
	}
	if _, err := ParseFrameStatus("lost"); err == nil {
		t.Error("expected error")
	}
}
