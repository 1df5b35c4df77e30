// Package localize drives windowing, pairwise delay estimation and multilateration
// over a recording, producing a time series of source positions.
//
// A Session moves from Idle to Streaming when Run starts and to Done when the
// frames are exhausted or the run is stopped. Every frame ends in one of four
// statuses (silent, solved, skipped, failed); a bad frame never aborts the run.
package localize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/frame"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/multilat"
)

// PositionEstimate is the solver output for one frame.
type PositionEstimate struct {
	Frame int `json:"frame"`
	// Start is the frame's first sample index.
	Start int `json:"start"`
	// Time is the frame start relative to the recording start.
	Time time.Duration `json:"time"`
	// Timestamp is the wall-clock frame start, zero when the recording start is unknown.
	Timestamp time.Time `json:"timestamp,omitzero"`

	Position geometry.Point2 `json:"position"`
	Residual float64         `json:"residual"`

	// Status is Solved, or Failed for a flagged best-effort position.
	Status     FrameStatus `json:"status"`
	Iterations int         `json:"iterations"`
}

// FrameResult records what happened to one frame.
type FrameResult struct {
	Index  int           `json:"index"`
	Start  int           `json:"start"`
	Time   time.Duration `json:"time"`
	Status FrameStatus   `json:"status"`
	RMS    []float64     `json:"rms"`
	Pairs  []PairResult  `json:"pairs,omitempty"`

	// Estimate is set for solved and failed frames.
	Estimate *PositionEstimate `json:"estimate,omitempty"`

	// Reason explains a skipped or failed frame.
	Reason string `json:"reason,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	SessionID string    `json:"session_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`

	Frames  int `json:"frames"`
	Silent  int `json:"silent"`
	Solved  int `json:"solved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Stopped is true when the run ended early through Stop or context cancellation.
	Stopped bool `json:"stopped"`

	Estimates []PositionEstimate `json:"estimates"`
	Accuracy  *accuracy.Summary  `json:"accuracy,omitempty"`
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Session localizes one recording. It is single use: Run may be called once.
type Session struct {
	cfg    Config
	array  *geometry.Array
	maxTau int
	id     string

	estimator DelayEstimator
	solver    PositionSolver
	logger    *slog.Logger

	truth          *accuracy.Trajectory
	recordingStart time.Time
	onEstimate     func(PositionEstimate)
	onFrame        func(FrameResult)

	mu        sync.RWMutex
	state     State
	estimates []PositionEstimate
	counts    [4]int
	previous  *geometry.Point2
	cancel    context.CancelFunc
	stopped   bool
}

// New validates cfg against the array and builds a session. Configuration errors
// surface here, before any audio is processed.
func New(cfg Config, array *geometry.Array, opts ...Option) (*Session, error) {
	if array == nil {
		return nil, fmt.Errorf("%w: nil array", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		array:  array,
		maxTau: array.MaxTau(cfg.SampleRate, cfg.SpeedOfSound),
		id:     uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", s.id)

	if s.estimator == nil {
		est, err := gccphat.New(gccphat.WithWeighting(cfg.Weighting), gccphat.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		s.estimator = est
	}
	if s.solver == nil {
		solver, err := multilat.New(array, cfg.Solver, multilat.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.solver = solver
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// MaxTau returns the lag search bound in samples.
func (s *Session) MaxTau() int {
	return s.maxTau
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Estimates returns a copy of the estimates accumulated so far. Safe to call while Run is streaming.
func (s *Session) Estimates() []PositionEstimate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.estimates)
}

// Stop asks a running session to finish after the current frame.
// Estimates accumulated so far are kept. A stop before Run makes Run return
// at once with an empty, stopped report.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// RunRecording windows rec with fc and runs the session over it. A recording with
// a channel shorter than one frame is not an error: the session finishes with no frames.
func (s *Session) RunRecording(ctx context.Context, rec *audioio.Recording, fc frame.Config) (*Report, error) {
	if rec.NumChannels() != s.array.Len() {
		return nil, fmt.Errorf("%w: %d channels, %d microphones", ErrChannelMismatch, rec.NumChannels(), s.array.Len())
	}
	if s.recordingStart.IsZero() {
		s.recordingStart = rec.Start
	}

	w, err := frame.NewWindower(rec.Channels, rec.SampleRate, fc)
	if errors.Is(err, frame.ErrInsufficientChannelLength) {
		s.logger.Warn("recording shorter than one frame, nothing to localize", "error", err)
		return s.finishEmpty()
	}
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, w)
}

func (s *Session) finishEmpty() (*Report, error) {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.state = Done
	s.mu.Unlock()

	now := time.Now()
	return &Report{SessionID: s.id, Started: now, Finished: now}, nil
}

// Run processes every frame of w in order. Channel or sample-rate mismatches are
// returned before streaming starts. Per-frame problems become frame statuses.
// Cancelling ctx or calling Stop ends the run between frames; the partial report
// is returned with Stopped set and a nil error.
func (s *Session) Run(ctx context.Context, w *frame.Windower) (*Report, error) {
	if w.NumChannels() != s.array.Len() {
		return nil, fmt.Errorf("%w: %d channels, %d microphones", ErrChannelMismatch, w.NumChannels(), s.array.Len())
	}
	if w.SampleRate() != s.cfg.SampleRate {
		return nil, fmt.Errorf("%w: recording %d Hz, configured %d Hz", ErrSampleRateMismatch, w.SampleRate(), s.cfg.SampleRate)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.state = Streaming
	s.cancel = cancel
	if s.stopped {
		cancel()
	}
	s.mu.Unlock()

	report := &Report{SessionID: s.id, Started: time.Now(), Stopped: ctx.Err() != nil}
	s.logger.Info("localization started",
		"frames", w.Len(),
		"microphones", s.array.Len(),
		"max_tau", s.maxTau,
		"sample_rate", w.SampleRate(),
	)

	for f := range w.Frames() {
		if ctx.Err() != nil {
			report.Stopped = true
			break
		}
		res, err := s.processFrame(ctx, f)
		if err != nil {
			// Cancelled mid-solve: the frame is dropped, not recorded.
			report.Stopped = true
			break
		}
		s.record(res)
	}

	s.mu.Lock()
	s.state = Done
	s.cancel = nil
	report.Estimates = slices.Clone(s.estimates)
	report.Silent = s.counts[Silent]
	report.Solved = s.counts[Solved]
	report.Skipped = s.counts[Skipped]
	report.Failed = s.counts[Failed]
	s.mu.Unlock()

	report.Frames = report.Silent + report.Solved + report.Skipped + report.Failed
	report.Finished = time.Now()

	if s.truth != nil {
		summary := accuracy.Evaluate(solvedSamples(report.Estimates), *s.truth)
		report.Accuracy = &summary
	}

	attrs := []any{
		"frames", report.Frames,
		"silent", report.Silent,
		"solved", report.Solved,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"stopped", report.Stopped,
		"duration", report.Duration(),
	}
	if report.Accuracy != nil {
		attrs = append(attrs, "rmse", report.Accuracy.RMSE)
	}
	s.logger.Info("localization finished", attrs...)

	return report, nil
}

func (s *Session) record(res FrameResult) {
	s.mu.Lock()
	s.counts[res.Status]++
	if res.Estimate != nil {
		s.estimates = append(s.estimates, *res.Estimate)
		if res.Status == Solved {
			p := res.Estimate.Position
			s.previous = &p
		}
	}
	s.mu.Unlock()

	if res.Estimate != nil && s.onEstimate != nil {
		s.onEstimate(*res.Estimate)
	}
	if s.onFrame != nil {
		s.onFrame(res)
	}
}

// processFrame classifies one frame. It returns an error only when ctx was
// cancelled during the solve.
func (s *Session) processFrame(ctx context.Context, f frame.Frame) (FrameResult, error) {
	res := FrameResult{
		Index: f.Index,
		Start: f.Start,
		Time:  f.Offset(),
		RMS:   f.RMS,
	}
	if f.Silent {
		res.Status = Silent
		return res, nil
	}

	pairs := s.array.Pairs()
	var active []geometry.Pair
	for _, p := range pairs {
		if f.Quiet[p.I] || f.Quiet[p.J] {
			res.Pairs = append(res.Pairs, PairResult{Pair: p, Dropped: true, Reason: "quiet channel"})
			continue
		}
		active = append(active, p)
	}

	delays := make(multilat.PairDelays, len(active))
	for _, pr := range EstimatePairs(s.estimator, f.Channels, active, s.maxTau, s.cfg.Workers) {
		if !pr.Dropped && pr.Estimate.Confidence < s.cfg.MinConfidence {
			pr.Dropped = true
			pr.Reason = fmt.Sprintf("confidence %.3f below %.3f", pr.Estimate.Confidence, s.cfg.MinConfidence)
		}
		if !pr.Dropped {
			delays[pr.Pair] = float64(pr.Estimate.Lag)
		}
		res.Pairs = append(res.Pairs, pr)
	}
	slices.SortFunc(res.Pairs, func(a, b PairResult) int {
		if a.Pair.I != b.Pair.I {
			return a.Pair.I - b.Pair.I
		}
		return a.Pair.J - b.Pair.J
	})

	if len(delays) < len(pairs) {
		res.Status = Skipped
		res.Reason = fmt.Sprintf("%d of %d pair delays", len(delays), len(pairs))
		s.logger.Debug("frame skipped", "frame", f.Index, "start", f.Start, "status", res.Status, "reason", res.Reason)
		return res, nil
	}

	sol, err := s.solver.Solve(ctx, delays, s.initialGuess())
	if err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}

	switch {
	case err == nil:
		res.Status = Solved
	case errors.Is(err, multilat.ErrIncompletePairSet):
		res.Status = Skipped
		res.Reason = err.Error()
		return res, nil
	case errors.Is(err, multilat.ErrNonConvergence):
		res.Status = Failed
		res.Reason = err.Error()
		s.logger.Warn("frame failed", "frame", f.Index, "start", f.Start, "status", res.Status, "error", err)
	default:
		res.Status = Failed
		res.Reason = err.Error()
		s.logger.Warn("frame failed", "frame", f.Index, "start", f.Start, "status", res.Status, "error", err)
		return res, nil
	}

	est := PositionEstimate{
		Frame:      f.Index,
		Start:      f.Start,
		Time:       res.Time,
		Position:   sol.Position,
		Residual:   sol.Residual,
		Status:     res.Status,
		Iterations: sol.Iterations,
	}
	if !s.recordingStart.IsZero() {
		est.Timestamp = s.recordingStart.Add(res.Time)
	}
	res.Estimate = &est
	return res, nil
}

func (s *Session) initialGuess() geometry.Point2 {
	switch s.cfg.InitialGuess {
	case GuessFixed:
		return s.cfg.FixedGuess
	case GuessPrevious:
		s.mu.RLock()
		prev := s.previous
		s.mu.RUnlock()
		if prev != nil {
			return *prev
		}
	}
	return s.cfg.Solver.Bounds.Center()
}

func solvedSamples(estimates []PositionEstimate) []accuracy.Sample {
	var out []accuracy.Sample
	for _, e := range estimates {
		if e.Status == Solved {
			out = append(out, accuracy.Sample{Time: e.Time, Position: e.Position})
		}
	}
	return out
}
