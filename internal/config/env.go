package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/frame"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/multilat"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOUNDLOC_"

// getEnv returns the variable's value, or def when unset or empty.
func getEnv(key, def string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return def
}

func envInt(key string, dst *int) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalid, EnvPrefix, key, v, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalid, EnvPrefix, key, v, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q: %w", ErrInvalid, EnvPrefix, key, v, err)
	}
	*dst = d
	return nil
}

// applyEnv overlays SOUNDLOC_* variables.
func (c *Config) applyEnv() error {
	c.Units = geometry.Units(getEnv("UNITS", string(c.Units)))
	c.Layout = getEnv("LAYOUT", c.Layout)
	c.Bounds.Convention = geometry.BoundsConvention(getEnv("BOUNDS", string(c.Bounds.Convention)))
	c.Frame.Policy = frame.SilencePolicy(getEnv("SILENCE_POLICY", string(c.Frame.Policy)))
	c.Weighting = gccphat.Weighting(getEnv("WEIGHTING", string(c.Weighting)))
	c.InitialGuess = localize.GuessMode(getEnv("INITIAL_GUESS", string(c.InitialGuess)))
	c.Solver.Method = multilat.Method(getEnv("SOLVER_METHOD", string(c.Solver.Method)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Address = getEnv("SERVER_ADDRESS", c.Server.Address)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Output.CSV = getEnv("OUTPUT_CSV", c.Output.CSV)
	c.Truth.CSV = getEnv("TRUTH_CSV", c.Truth.CSV)
	c.Truth.Plan = getEnv("TRUTH_PLAN", c.Truth.Plan)

	for _, f := range []func() error{
		func() error { return envInt("SAMPLE_RATE", &c.SampleRate) },
		func() error { return envInt("FRAME_LENGTH", &c.Frame.FrameLength) },
		func() error { return envInt("HOP_LENGTH", &c.Frame.HopLength) },
		func() error { return envInt("PAIR_WORKERS", &c.PairWorkers) },
		func() error { return envInt("SOLVER_MAX_ITERATIONS", &c.Solver.MaxIterations) },
		func() error { return envFloat("SPEED_OF_SOUND", &c.SpeedOfSound) },
		func() error { return envFloat("SILENCE_THRESHOLD", &c.Frame.SilenceThreshold) },
		func() error { return envFloat("MIN_CONFIDENCE", &c.MinConfidence) },
		func() error { return envFloat("SOLVER_MAX_RESIDUAL", &c.Solver.MaxResidual) },
		func() error { return envDuration("SOLVER_TIME_BUDGET", &c.Solver.TimeBudget) },
	} {
		if err := f(); err != nil {
			return err
		}
	}

	if v := os.Getenv(EnvPrefix + "SOURCE_Z"); v != "" {
		z, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sSOURCE_Z=%q: %w", ErrInvalid, EnvPrefix, v, err)
		}
		c.SourceZ = &z
	}
	return nil
}
