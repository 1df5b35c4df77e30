package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-soundloc/internal/config"
	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/sim"
	"github.com/teslashibe/go-soundloc/pkg/store"
)

// writeSession renders a static source into dir as mic_N.wav files.
func writeSession(t *testing.T, dir string, src geometry.Point2) {
	t.Helper()
	array := geometry.MustNew(geometry.SquareArena(), geometry.Centimeters)
	cfg := sim.DefaultConfig()
	cfg.SpeedOfSound = geometry.Centimeters.DefaultSpeedOfSound()
	cfg.SourceZ = 30
	rec, err := sim.Render(array, sim.Static{Position: src, Hz: 1500, Length: 200 * time.Millisecond}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i, ch := range sim.ToPCM(rec) {
		path := filepath.Join(dir, fmt.Sprintf("mic_%d.wav", i+1))
		if err := audioio.WriteWAVFile(path, rec.SampleRate, [][]int16{ch}); err != nil {
			t.Fatal(err)
		}
	}
}

func writeTruth(t *testing.T, dir string, src geometry.Point2) {
	t.Helper()
	body := fmt.Sprintf("t,x,y\n0,%g,%g\n1,%g,%g\n", src.X, src.Y, src.X, src.Y)
	if err := os.WriteFile(filepath.Join(dir, TruthFile), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessWritesCSV(t *testing.T) {
	dir := t.TempDir()
	src := geometry.Point2{X: 40, Y: 70}
	writeSession(t, dir, src)
	writeTruth(t, dir, src)

	a, err := New(Config{Rig: config.DefaultConfig(), Input: dir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.csv")
	report, err := a.Process(context.Background(), dir, out, time.Time{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if report.Solved == 0 {
		t.Fatalf("no solved frames: %+v", report)
	}
	if report.Accuracy == nil || report.Accuracy.Count == 0 {
		t.Fatal("truth.csv in the session dir should produce an accuracy summary")
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := store.ReadCSV(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != len(report.Estimates) {
		t.Errorf("csv has %d rows, report %d estimates", len(rows), len(report.Estimates))
	}
	for _, r := range rows {
		if r.Status == localize.Solved && r.Start > 0 && r.Position.Distance(src) > 5 {
			t.Errorf("frame %d at %v, far from %v", r.Frame, r.Position, src)
		}
	}
}

func TestProcessResamples(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, geometry.Point2{X: -30, Y: 10})

	rig := config.DefaultConfig()
	rig.SampleRate = 48000
	a, err := New(Config{Rig: rig, Input: dir})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := a.loadRecording(dir)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SampleRate != 48000 || rec.NumChannels() != 4 {
		t.Errorf("recording at %d Hz with %d channels", rec.SampleRate, rec.NumChannels())
	}
}

func TestProcessChannelMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSession(t, dir, geometry.Point2{})
	if err := os.Remove(filepath.Join(dir, "mic_4.wav")); err != nil {
		t.Fatal(err)
	}

	a, err := New(Config{Rig: config.DefaultConfig(), Input: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Process(context.Background(), dir, "", time.Time{}); !errors.Is(err, localize.ErrChannelMismatch) {
		t.Errorf("Process() = %v, want ErrChannelMismatch", err)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"neither", Config{Rig: config.DefaultConfig()}, ErrNoInput},
		{"both", Config{Rig: config.DefaultConfig(), Input: dir, WatchDir: dir}, ErrNoInput},
		{"missing input", Config{Rig: config.DefaultConfig(), Input: filepath.Join(dir, "nope")}, os.ErrNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	cfg := Config{Rig: config.DefaultConfig(), Input: dir}
	cfg.Rig.Truth.CSV, cfg.Rig.Truth.Plan = "a.csv", "b.yaml"
	if err := cfg.Validate(); err == nil {
		t.Error("csv and plan truth together should fail")
	}
}
