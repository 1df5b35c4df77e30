package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-soundloc/internal/config"
)

// DefaultSessionCSV is the estimates file written into each watched session directory.
const DefaultSessionCSV = "estimates.csv"

// TruthFile is a per-session ground truth CSV picked up in watch mode.
const TruthFile = "truth.csv"

// ErrNoInput is returned unless exactly one of Input and WatchDir is set.
var ErrNoInput = errors.New("exactly one of input or watch dir is required")

// Config holds application configuration.
type Config struct {
	// Rig is the loaded rig configuration.
	Rig config.Config

	// Input is a directory of per-microphone WAVs or one multi-channel WAV.
	Input string

	// WatchDir switches to watch mode: every session directory that appears
	// under it is localized once its marker file is written.
	WatchDir string

	// Label is stored with the session in the database.
	Label string

	// RecordingStart is the wall-clock time of the first sample, if known.
	RecordingStart time.Time

	// Keep serving the live view after a single input finishes, until ctx is done.
	Linger bool
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if (c.Input == "") == (c.WatchDir == "") {
		return ErrNoInput
	}
	path := c.Input
	if path == "" {
		path = c.WatchDir
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if c.Rig.Truth.CSV != "" && c.Rig.Truth.Plan != "" {
		return errors.New("truth csv and truth plan are mutually exclusive")
	}
	return c.Rig.Validate()
}
