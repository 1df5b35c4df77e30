// Package app wires recording input, localization and the outputs
// (CSV, MySQL, live view) behind the soundloc command.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-soundloc/pkg/accuracy"
	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/ingest"
	"github.com/teslashibe/go-soundloc/pkg/localize"
	"github.com/teslashibe/go-soundloc/pkg/rig"
	"github.com/teslashibe/go-soundloc/pkg/store"
	"github.com/teslashibe/go-soundloc/pkg/web"
)

// App is the soundloc application orchestrator.
type App struct {
	config Config
	logger *slog.Logger

	array   *geometry.Array
	session localize.Config

	// Optional outputs
	db        *store.MySQL
	webServer *web.Server
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New validates cfg and creates the application.
func New(cfg Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.array, err = cfg.Rig.Array(); err != nil {
		return nil, err
	}
	if a.session, err = cfg.Rig.Localize(); err != nil {
		return nil, err
	}
	return a, nil
}

// Init connects the optional outputs. Call after New and before Run.
func (a *App) Init(ctx context.Context) error {
	fmt.Println("🎯 soundloc - acoustic source localization")
	fmt.Printf("🎤 %d microphones (%s), %d pairs, max lag %d samples\n",
		a.array.Len(), a.array.Units(), len(a.array.Pairs()),
		a.array.MaxTau(a.session.SampleRate, a.session.SpeedOfSound))

	if dsn := a.config.Rig.Database.DSN; dsn != "" {
		fmt.Print("🗄️  Connecting to MySQL... ")
		db, err := store.OpenMySQL(ctx, dsn)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return fmt.Errorf("database: %w", err)
		}
		a.db = db
		fmt.Println("✅")
	}

	if addr := a.config.Rig.Server.Address; addr != "" {
		a.webServer = web.NewServer(addr, web.WithLogger(a.logger))
		a.webServer.StartAsync()
		fmt.Printf("🌐 Live view: http://localhost%s/ws/estimates\n", addr)
	}
	return nil
}

// Run localizes the input, or watches for sessions until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.config.WatchDir != "" {
		return a.watch(ctx)
	}

	report, err := a.Process(ctx, a.config.Input, a.config.Rig.Output.CSV, a.config.RecordingStart)
	if err != nil {
		return err
	}
	printReport(report)

	if a.config.Linger && a.webServer != nil && ctx.Err() == nil {
		fmt.Println("⏸️  Done, live view stays up until interrupted")
		<-ctx.Done()
	}
	return nil
}

// Shutdown releases the outputs.
func (a *App) Shutdown() {
	if a.webServer != nil {
		if err := a.webServer.Shutdown(); err != nil {
			a.logger.Warn("web shutdown", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) watch(ctx context.Context) error {
	cfg := ingest.DefaultConfig(a.config.WatchDir)
	w, err := ingest.New(cfg, func(ctx context.Context, dir string) error {
		fmt.Printf("📂 New session: %s\n", dir)
		out := a.config.Rig.Output.CSV
		if out == "" {
			out = DefaultSessionCSV
		}
		if !filepath.IsAbs(out) {
			out = filepath.Join(dir, out)
		}
		report, err := a.Process(ctx, dir, out, time.Time{})
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}, ingest.WithLogger(a.logger))
	if err != nil {
		return err
	}
	fmt.Printf("👀 Watching %s for sessions\n", a.config.WatchDir)
	return w.Run(ctx)
}

// Process localizes one recording and writes it to every configured output.
// csvPath may be empty.
func (a *App) Process(ctx context.Context, input, csvPath string, start time.Time) (*localize.Report, error) {
	rec, err := a.loadRecording(input)
	if err != nil {
		return nil, err
	}
	if start.IsZero() {
		start = rec.Start
	}
	fmt.Printf("🔊 %s: %d channels, %s at %d Hz\n", input, rec.NumChannels(), rec.Duration().Round(time.Millisecond), rec.SampleRate)

	opts := []localize.Option{
		localize.WithLogger(a.logger),
		localize.WithRecordingStart(start),
	}

	truth, err := a.loadTruth(input, start)
	if err != nil {
		return nil, err
	}
	if truth != nil {
		opts = append(opts, localize.WithTruth(*truth))
	}

	var csvw *store.CSVWriter
	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		defer f.Close()
		csvw = store.NewCSVWriter(f)
	}

	opts = append(opts, localize.OnEstimate(func(e localize.PositionEstimate) {
		if csvw != nil {
			if err := csvw.Write(e); err != nil {
				a.logger.Error("write estimate", "frame", e.Frame, "error", err)
			}
		}
		if a.webServer != nil {
			a.webServer.PublishEstimate(e)
		}
	}))
	if a.webServer != nil {
		opts = append(opts, localize.OnFrame(a.webServer.PublishFrame))
	}

	session, err := localize.New(a.session, a.array, opts...)
	if err != nil {
		return nil, err
	}
	if a.webServer != nil {
		a.webServer.BeginSession(session.ID())
		a.webServer.SetOnStop(session.Stop)
	}

	report, err := session.RunRecording(ctx, rec, a.config.Rig.Frame)
	if err != nil {
		return nil, err
	}

	if a.webServer != nil {
		a.webServer.EndSession(report)
	}
	if a.db != nil {
		label := a.config.Label
		if label == "" {
			label = filepath.Base(input)
		}
		// Saving still runs after an interrupt so the partial session is kept.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := a.db.SaveReport(saveCtx, label, report); err != nil {
			return report, fmt.Errorf("save session: %w", err)
		}
	}
	return report, nil
}

// loadRecording reads a directory of mic_N.wav files or one multi-channel WAV,
// applies channel offsets and resamples to the configured rate.
func (a *App) loadRecording(input string) (*audioio.Recording, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}

	var rec *audioio.Recording
	if info.IsDir() {
		files, err := audioio.FindMicFiles(input)
		if err != nil {
			return nil, err
		}
		if rec, err = audioio.LoadMicFiles(files); err != nil {
			return nil, err
		}
	} else if rec, err = audioio.LoadMultichannel(input); err != nil {
		return nil, err
	}

	if offsets := a.config.Rig.ChannelOffsets; len(offsets) > 0 {
		if err := rec.Align(offsets); err != nil {
			return nil, err
		}
	}
	if want := a.session.SampleRate; rec.SampleRate != want {
		a.logger.Info("resampling recording", "from", rec.SampleRate, "to", want)
		for c, ch := range rec.Channels {
			rec.Channels[c] = audioio.Resample(ch, rec.SampleRate, want)
		}
		rec.SampleRate = want
	}
	return rec, nil
}

// loadTruth returns the ground truth for input, or nil when none is configured.
// A truth.csv inside a session directory wins over the configured source.
func (a *App) loadTruth(input string, start time.Time) (*accuracy.Trajectory, error) {
	t := a.config.Rig.Truth
	opts := accuracy.CSVOptions{Start: start, MarkerID: t.MarkerID}

	local := filepath.Join(input, TruthFile)
	if _, err := os.Stat(local); err == nil {
		traj, err := accuracy.LoadCSVFile(local, opts)
		if err != nil {
			return nil, fmt.Errorf("truth: %w", err)
		}
		return &traj, nil
	}

	switch {
	case t.CSV != "":
		traj, err := accuracy.LoadCSVFile(t.CSV, opts)
		if err != nil {
			return nil, fmt.Errorf("truth: %w", err)
		}
		return &traj, nil
	case t.Plan != "":
		plan, err := rig.LoadFile(t.Plan)
		if err != nil {
			return nil, fmt.Errorf("truth: %w", err)
		}
		traj := plan.Trajectory(100 * time.Millisecond)
		return &traj, nil
	}
	return nil, nil
}

func printReport(r *localize.Report) {
	fmt.Printf("📊 %d frames: %d solved, %d silent, %d skipped, %d failed in %s\n",
		r.Frames, r.Solved, r.Silent, r.Skipped, r.Failed, r.Duration().Round(time.Millisecond))
	if r.Stopped {
		fmt.Println("⏹️  Stopped early, partial results kept")
	}
	if s := r.Accuracy; s != nil && s.Count > 0 {
		fmt.Printf("📏 Error vs ground truth over %d estimates: RMSE %.3f, median %.3f, p90 %.3f, max %.3f\n",
			s.Count, s.RMSE, s.Median, s.P90, s.Max)
	}
}
