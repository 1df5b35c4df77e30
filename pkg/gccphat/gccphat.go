// Package gccphat estimates the time difference of arrival between two microphone
// channels with the generalized cross-correlation and phase transform (GCC-PHAT).
//
// The cross-power spectrum of the two frames is divided by its magnitude, which
// whitens it: every frequency contributes equally, so the correlation peak is sharp
// and reverberant energy concentrated in a few bands cannot dominate it. The
// inverse transform is searched only within the physically admissible lag window.
package gccphat

import (
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Weighting selects the spectral weighting applied before the inverse transform.
type Weighting string

const (
	// PHAT divides the cross-power spectrum by its magnitude.
	PHAT Weighting = "phat"
	// None leaves the spectrum unweighted (plain cross-correlation).
	None Weighting = "none"
)

// DefaultEpsilon floors the spectral magnitude in the PHAT division.
const DefaultEpsilon = 1e-12

// DelayEstimate is the result of one pairwise delay estimation.
type DelayEstimate struct {
	// Lag in samples, within [-maxTau, maxTau]. Positive means the first signal
	// lags the second: the sound reached the first microphone later.
	Lag int `json:"lag"`

	// Confidence is the peak divided by the largest absolute correlation within
	// [-maxTau, maxTau], clamped to [0, 1].
	Confidence float64 `json:"confidence"`

	// Dominance is the peak divided by the largest absolute correlation over all
	// lags. It drops when the strongest correlation lies outside the window.
	Dominance float64 `json:"dominance"`

	// Peak is the raw correlation value at Lag.
	Peak float64 `json:"peak"`
}

// Config holds estimator settings.
type Config struct {
	Weighting Weighting
	Epsilon   float64
	Logger    *slog.Logger
}

// Option is a functional option for configuring the estimator.
type Option func(*Config)

// WithWeighting selects PHAT or plain cross-correlation.
func WithWeighting(w Weighting) Option {
	return func(c *Config) {
		c.Weighting = w
	}
}

// WithEpsilon sets the magnitude floor used in the PHAT division.
func WithEpsilon(eps float64) Option {
	return func(c *Config) {
		c.Epsilon = eps
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns PHAT weighting with the default epsilon.
func DefaultConfig() *Config {
	return &Config{
		Weighting: PHAT,
		Epsilon:   DefaultEpsilon,
		Logger:    slog.Default(),
	}
}

// Estimator computes pairwise delays. It is safe for concurrent use: each call
// borrows its own FFT plan and buffers, and the inputs are only read.
type Estimator struct {
	cfg *Config

	mu    sync.Mutex
	plans map[int]*sync.Pool
}

// New creates an estimator.
func New(opts ...Option) (*Estimator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	switch cfg.Weighting {
	case PHAT, None:
	default:
		return nil, fmt.Errorf("gccphat: unknown weighting %q", string(cfg.Weighting))
	}
	if cfg.Epsilon <= 0 {
		return nil, fmt.Errorf("gccphat: epsilon must be positive, got %v", cfg.Epsilon)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Estimator{cfg: cfg, plans: make(map[int]*sync.Pool)}, nil
}

// Weighting returns the configured weighting.
func (e *Estimator) Weighting() Weighting {
	return e.cfg.Weighting
}

// FFTLength returns the transform size for frames of n samples: the smallest power
// of two not below 2n-1, so the circular correlation has no wraparound.
func FFTLength(n int) int {
	return nextPowerOfTwo(2*n - 1)
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	power := 1
	for power < n {
		power <<= 1
	}
	return power
}

// workspace is the per-call scratch for one transform size.
type workspace struct {
	fft  *fourier.FFT
	xpad []float64
	ypad []float64
	xs   []complex128
	ys   []complex128
	cc   []float64
}

func (e *Estimator) pool(n int) *sync.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.plans[n]
	if !ok {
		p = &sync.Pool{New: func() any {
			return &workspace{
				fft:  fourier.NewFFT(n),
				xpad: make([]float64, n),
				ypad: make([]float64, n),
				xs:   make([]complex128, n/2+1),
				ys:   make([]complex128, n/2+1),
				cc:   make([]float64, n),
			}
		}}
		e.plans[n] = p
	}
	return p
}

// Estimate returns the lag in [-maxTau, maxTau] that maximizes the generalized
// cross-correlation of x and y. Both lags ±maxTau are valid results.
func (e *Estimator) Estimate(x, y []float64, maxTau int) (DelayEstimate, error) {
	window, globalMax, err := e.correlate(x, y, maxTau)
	if err != nil {
		return DelayEstimate{}, err
	}
	tau := (len(window) - 1) / 2

	best := 0
	for i := 1; i < len(window); i++ {
		if window[i] > window[best] {
			best = i
		}
	}

	est := DelayEstimate{
		Lag:  best - tau,
		Peak: window[best],
	}
	var windowMax float64
	for _, v := range window {
		windowMax = math.Max(windowMax, math.Abs(v))
	}
	est.Confidence = ratio(window[best], windowMax)
	est.Dominance = ratio(window[best], globalMax)
	return est, nil
}

func ratio(v, norm float64) float64 {
	if norm <= 0 {
		return 0
	}
	return math.Min(math.Max(v/norm, 0), 1)
}

// Correlate returns the generalized cross-correlation for lags -maxTau..maxTau.
// Index i holds lag i-maxTau.
func (e *Estimator) Correlate(x, y []float64, maxTau int) ([]float64, error) {
	window, _, err := e.correlate(x, y, maxTau)
	return window, err
}

func (e *Estimator) correlate(x, y []float64, maxTau int) ([]float64, float64, error) {
	if len(x) == 0 || len(y) == 0 {
		return nil, 0, ErrEmptySignal
	}
	if len(x) != len(y) {
		return nil, 0, fmt.Errorf("%w: %d vs %d samples", ErrLengthMismatch, len(x), len(y))
	}
	if maxTau < 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidMaxTau, maxTau)
	}
	if maxTau > len(x)-1 {
		// Lags beyond the frame length have no overlapping samples.
		e.cfg.Logger.Debug("max_tau exceeds frame, clamping", "max_tau", maxTau, "frame", len(x))
		maxTau = len(x) - 1
	}

	n := FFTLength(len(x))
	p := e.pool(n)
	ws := p.Get().(*workspace)
	defer p.Put(ws)

	copy(ws.xpad, x)
	clear(ws.xpad[len(x):])
	copy(ws.ypad, y)
	clear(ws.ypad[len(y):])

	ws.fft.Coefficients(ws.xs, ws.xpad)
	ws.fft.Coefficients(ws.ys, ws.ypad)

	// Cross-power spectrum X * conj(Y), reusing xs.
	for k := range ws.xs {
		r := ws.xs[k] * cmplx.Conj(ws.ys[k])
		if e.cfg.Weighting == PHAT {
			mag := cmplx.Abs(r)
			if mag < e.cfg.Epsilon {
				mag = e.cfg.Epsilon
			}
			r /= complex(mag, 0)
		}
		ws.xs[k] = r
	}

	ws.fft.Sequence(ws.cc, ws.xs)

	var globalMax float64
	for _, v := range ws.cc {
		globalMax = math.Max(globalMax, math.Abs(v))
	}

	// Positive lags sit at the start of the circular sequence, negative lags at the end.
	window := make([]float64, 2*maxTau+1)
	for lag := -maxTau; lag <= maxTau; lag++ {
		window[lag+maxTau] = ws.cc[(lag+n)%n]
	}
	return window, globalMax, nil
}
