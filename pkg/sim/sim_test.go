package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/frame"
	"github.com/teslashibe/go-soundloc/pkg/gccphat"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/rig"
)

func arenaConfig() Config {
	cfg := DefaultConfig()
	cfg.SpeedOfSound = geometry.Centimeters.DefaultSpeedOfSound()
	cfg.SourceZ = 30
	return cfg
}

func TestRenderDelays(t *testing.T) {
	array := geometry.MustNew(geometry.SquareArena(), geometry.Centimeters)
	cfg := arenaConfig()
	src := geometry.Point2{X: 60, Y: -40}

	rec, err := Render(array, Static{Position: src, Hz: 1000, Length: 100 * time.Millisecond}, cfg)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if rec.NumChannels() != 4 || rec.Len() != 4410 {
		t.Fatalf("recording %d channels x %d samples", rec.NumChannels(), rec.Len())
	}

	est, err := gccphat.New()
	if err != nil {
		t.Fatal(err)
	}
	maxTau := array.MaxTau(cfg.SampleRate, cfg.SpeedOfSound)
	start, n := 2000, 2048
	for _, p := range array.Pairs() {
		d, err := est.Estimate(rec.Channels[p.I][start:start+n], rec.Channels[p.J][start:start+n], maxTau)
		if err != nil {
			t.Fatal(err)
		}
		want := array.DelaySamples(src.At(cfg.SourceZ), p.I, p.J, cfg.SampleRate, cfg.SpeedOfSound)
		if math.Abs(float64(d.Lag)-want) > 1 {
			t.Errorf("pair %v: lag %d, want %.2f", p, d.Lag, want)
		}
	}
}

func TestRenderSilenceBetweenBeeps(t *testing.T) {
	array := geometry.MustNew(geometry.SquareArena(), geometry.Centimeters)
	cfg := arenaConfig()
	cfg.SNR = 0
	plan := rig.Plan{
		Motion: rig.DefaultMotion(),
		Actions: rig.Sequence{
			rig.Wait{Time: 100 * time.Millisecond},
			rig.Wait{Time: 100 * time.Millisecond, Hz: 880},
		},
	}

	rec, err := Render(array, PlanSource{Plan: plan}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	quiet := frame.RMS(rec.Channels[0][:4000])
	loud := frame.RMS(rec.Channels[0][5000:8000])
	if quiet != 0 {
		t.Errorf("silent segment RMS = %v, want 0", quiet)
	}
	if loud < 0.01 {
		t.Errorf("beep segment RMS = %v", loud)
	}
}

func TestRenderLocalizes(t *testing.T) {
	array := geometry.MustNew(geometry.SquareArena(), geometry.Centimeters)
	cfg := arenaConfig()
	src := geometry.Point2{X: -80, Y: 50}

	rec, err := Render(array, Static{Position: src, Hz: 2000, Length: 250 * time.Millisecond}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	lc := localize.DefaultConfig()
	lc.SpeedOfSound = cfg.SpeedOfSound
	lc.Solver.Bounds, _ = geometry.BoundsFor(geometry.CenteredConvention, 330, 250)
	session, err := localize.New(lc, array)
	if err != nil {
		t.Fatal(err)
	}
	report, err := session.RunRecording(context.Background(), rec, frame.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if report.Solved == 0 {
		t.Fatalf("no solved frames: %+v", report)
	}
	for _, e := range report.Estimates {
		// The first frame holds the propagation lead-in.
		if e.Status != localize.Solved || e.Start == 0 {
			continue
		}
		if d := e.Position.Distance(src); d > 5 {
			t.Errorf("frame %d at %v, %.2f cm from source", e.Frame, e.Position, d)
		}
	}
}

func TestRenderErrors(t *testing.T) {
	array := geometry.MustNew(geometry.SquareArena(), geometry.Centimeters)
	tests := []struct {
		name   string
		mutate func(*Config)
		src    Source
	}{
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, Static{Length: time.Second}},
		{"loud", func(c *Config) { c.Amplitude = 2 }, Static{Length: time.Second}},
		{"mix", func(c *Config) { c.ToneMix = -1 }, Static{Length: time.Second}},
		{"empty source", func(*Config) {}, Static{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := arenaConfig()
			tt.mutate(&cfg)
			if _, err := Render(array, tt.src, cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Render() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
