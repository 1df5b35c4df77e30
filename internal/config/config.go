// Package config loads rig configuration for go-soundloc commands.
//
// Values come from a YAML file, then a .env file, then SOUNDLOC_* environment
// variables, in increasing precedence. Validate must pass before the derived
// geometry and session configs are built.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-soundloc/pkg/frame"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/multilat"
)

// Microphone layouts known by name.
const (
	LayoutSquareArena  = "square-arena"
	LayoutTriangleRoom = "triangle-room"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// BoundsConfig selects the solver search box. Explicit Min/Max win over Convention.
type BoundsConfig struct {
	Convention geometry.BoundsConvention `yaml:"convention"`
	Min        []float64                 `yaml:"min"`
	Max        []float64                 `yaml:"max"`
}

// SolverConfig mirrors multilat.Config's tunables.
type SolverConfig struct {
	Method        multilat.Method `yaml:"method"`
	MaxIterations int             `yaml:"max_iterations"`
	TimeBudget    time.Duration   `yaml:"time_budget"`
	Tolerance     float64         `yaml:"tolerance"`
	MaxResidual   float64         `yaml:"max_residual"`
}

// TruthConfig points at ground truth for accuracy reports.
type TruthConfig struct {
	CSV      string `yaml:"csv"`
	MarkerID *int   `yaml:"marker_id"`
	Plan     string `yaml:"plan"` // robot action sequence, CSV or YAML
}

// Config is the full rig configuration.
type Config struct {
	Units        geometry.Units `yaml:"units"`
	SpeedOfSound float64        `yaml:"speed_of_sound"` // zero means 343 m/s in Units
	SampleRate   int            `yaml:"sample_rate"`

	// Layout names a preset used when Microphones is empty.
	Layout      string       `yaml:"layout"`
	Microphones [][3]float64 `yaml:"microphones"`

	// Room is [width, length] or [width, length, height].
	Room   []float64    `yaml:"room"`
	Bounds BoundsConfig `yaml:"bounds"`

	Frame frame.Config `yaml:",inline"`

	Weighting     gccphat.Weighting  `yaml:"weighting"`
	MinConfidence float64            `yaml:"min_confidence"`
	InitialGuess  localize.GuessMode `yaml:"initial_guess"`
	FixedGuess    []float64          `yaml:"fixed_guess"`
	Solver        SolverConfig       `yaml:"solver"`
	SourceZ       *float64           `yaml:"source_z"`
	PairWorkers   int                `yaml:"pair_workers"`

	// ChannelOffsets are per-channel sample offsets applied before windowing.
	ChannelOffsets []int `yaml:"channel_offsets"`

	LogLevel string `yaml:"log_level"`

	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Output struct {
		CSV string `yaml:"csv"`
	} `yaml:"output"`

	Truth TruthConfig `yaml:"truth"`
}

// DefaultConfig returns the square arena rig: four microphones in centimeters,
// a centered 330 x 250 cm search box, 44.1 kHz audio.
func DefaultConfig() Config {
	solver := multilat.DefaultConfig()
	return Config{
		Units:        geometry.Centimeters,
		SampleRate:   44100,
		Layout:       LayoutSquareArena,
		Room:         []float64{330, 250},
		Bounds:       BoundsConfig{Convention: geometry.CenteredConvention},
		Frame:        frame.DefaultConfig(),
		Weighting:    gccphat.PHAT,
		InitialGuess: localize.GuessCentroid,
		Solver: SolverConfig{
			Method:        solver.Method,
			MaxIterations: solver.MaxIterations,
			TimeBudget:    solver.TimeBudget,
			Tolerance:     solver.Tolerance,
		},
		LogLevel: "info",
	}
}

// Load reads path (skipped when empty) over the defaults, then envFile (skipped
// when empty or missing), then SOUNDLOC_* variables, and validates the result.
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills unit-dependent defaults.
func (c *Config) Validate() error {
	if err := c.Units.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.SpeedOfSound == 0 {
		c.SpeedOfSound = c.Units.DefaultSpeedOfSound()
	}
	if c.SpeedOfSound < 0 {
		return fmt.Errorf("%w: speed_of_sound must be positive", ErrInvalid)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrInvalid, c.SampleRate)
	}
	if _, err := c.Array(); err != nil {
		return err
	}
	if _, err := c.SearchBounds(); err != nil {
		return err
	}
	if err := c.Frame.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.InitialGuess == localize.GuessFixed && len(c.FixedGuess) != 2 {
		return fmt.Errorf("%w: fixed_guess needs [x, y]", ErrInvalid)
	}
	if len(c.ChannelOffsets) > 0 && len(c.ChannelOffsets) != c.MicrophoneCount() {
		return fmt.Errorf("%w: %d channel_offsets for %d microphones", ErrInvalid, len(c.ChannelOffsets), c.MicrophoneCount())
	}
	lc, err := c.Localize()
	if err != nil {
		return err
	}
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// MicrophoneCount returns the number of configured microphones.
func (c *Config) MicrophoneCount() int {
	if len(c.Microphones) > 0 {
		return len(c.Microphones)
	}
	pts, err := presetLayout(c.Layout)
	if err != nil {
		return 0
	}
	return len(pts)
}

func presetLayout(name string) ([]geometry.Point, error) {
	switch name {
	case LayoutSquareArena:
		return geometry.SquareArena(), nil
	case LayoutTriangleRoom:
		return geometry.TriangleRoom(), nil
	case "":
		return nil, fmt.Errorf("%w: no microphones and no layout", ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: unknown layout %q", ErrInvalid, name)
	}
}

// Array builds the microphone geometry.
func (c *Config) Array() (*geometry.Array, error) {
	var pts []geometry.Point
	if len(c.Microphones) > 0 {
		pts = make([]geometry.Point, len(c.Microphones))
		for i, m := range c.Microphones {
			pts[i] = geometry.Point{X: m[0], Y: m[1], Z: m[2]}
		}
	} else {
		var err error
		if pts, err = presetLayout(c.Layout); err != nil {
			return nil, err
		}
	}
	a, err := geometry.New(pts, c.Units)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return a, nil
}

// SearchBounds builds the solver's search box.
func (c *Config) SearchBounds() (geometry.Bounds, error) {
	if len(c.Bounds.Min) > 0 || len(c.Bounds.Max) > 0 {
		if len(c.Bounds.Min) != 2 || len(c.Bounds.Max) != 2 {
			return geometry.Bounds{}, fmt.Errorf("%w: bounds min and max need [x, y]", ErrInvalid)
		}
		b := geometry.Bounds{
			Min: geometry.Point2{X: c.Bounds.Min[0], Y: c.Bounds.Min[1]},
			Max: geometry.Point2{X: c.Bounds.Max[0], Y: c.Bounds.Max[1]},
		}
		if err := b.Validate(); err != nil {
			return geometry.Bounds{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return b, nil
	}
	if len(c.Room) < 2 {
		return geometry.Bounds{}, fmt.Errorf("%w: room needs at least [width, length]", ErrInvalid)
	}
	b, err := geometry.BoundsFor(c.Bounds.Convention, c.Room[0], c.Room[1])
	if err != nil {
		return geometry.Bounds{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return b, nil
}

// Localize builds the session configuration.
func (c *Config) Localize() (localize.Config, error) {
	bounds, err := c.SearchBounds()
	if err != nil {
		return localize.Config{}, err
	}
	lc := localize.DefaultConfig()
	lc.SampleRate = c.SampleRate
	lc.SpeedOfSound = c.SpeedOfSound
	lc.Weighting = c.Weighting
	lc.MinConfidence = c.MinConfidence
	lc.InitialGuess = c.InitialGuess
	if len(c.FixedGuess) == 2 {
		lc.FixedGuess = geometry.Point2{X: c.FixedGuess[0], Y: c.FixedGuess[1]}
	}
	lc.Workers = c.PairWorkers
	lc.Solver.Bounds = bounds
	lc.Solver.SourceZ = c.SourceZ
	lc.Solver.Method = c.Solver.Method
	lc.Solver.MaxIterations = c.Solver.MaxIterations
	lc.Solver.TimeBudget = c.Solver.TimeBudget
	lc.Solver.Tolerance = c.Solver.Tolerance
	lc.Solver.MaxResidual = c.Solver.MaxResidual
	return lc, nil
}
