// soundloc - localize a sound source from synchronized microphone recordings
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-soundloc/internal/config"
	logpkg "github.com/teslashibe/go-soundloc/internal/log"
	"github.com/teslashibe/go-soundloc/pkg/app"
)

func main() {
	configPath := flag.String("config", "", "Rig config YAML (defaults to the square arena)")
	envFile := flag.String("env", ".env", "Optional .env file with SOUNDLOC_* overrides")
	input := flag.String("input", "", "Directory of mic_N.wav files or one multi-channel WAV")
	watch := flag.String("watch", "", "Watch this directory and localize each session once its 'done' marker appears")
	out := flag.String("out", "", "Estimates CSV (overrides output.csv)")
	serve := flag.String("serve", "", "Serve the live view on this address, e.g. :8080 (overrides server.address)")
	dsn := flag.String("dsn", "", "MySQL DSN for storing sessions (overrides database.dsn)")
	truth := flag.String("truth", "", "Ground truth CSV (t,x,y or Time,Marker_ID,X,Y)")
	plan := flag.String("plan", "", "Robot action plan used as ground truth")
	label := flag.String("label", "", "Session label stored in the database")
	start := flag.String("start", "", "Recording start, RFC 3339 or '2006-01-02 15:04:05.000' local time")
	linger := flag.Bool("linger", false, "Keep the live view up after the input is processed")
	follow := flag.String("follow", "", "Print estimates streamed by a running soundloc, e.g. ws://host:8080/ws/estimates")
	stop := flag.String("stop", "", "Ask a running soundloc to stop its session, e.g. http://host:8080")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *stop != "" {
		if err := stopSession(ctx, *stop); err != nil {
			log.Fatalf("❌ Stop: %v", err)
		}
		return
	}
	if *follow != "" {
		if err := followStream(ctx, *follow); err != nil {
			log.Fatalf("❌ Follow: %v", err)
		}
		return
	}

	rig, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	if *out != "" {
		rig.Output.CSV = *out
	}
	if *serve != "" {
		rig.Server.Address = *serve
	}
	if *dsn != "" {
		rig.Database.DSN = *dsn
	}
	if *truth != "" {
		rig.Truth.CSV = *truth
	}
	if *plan != "" {
		rig.Truth.Plan = *plan
	}
	if *debug {
		rig.LogLevel = "debug"
	}
	logpkg.Init(rig.LogLevel)

	cfg := app.Config{
		Rig:      rig,
		Input:    *input,
		WatchDir: *watch,
		Label:    *label,
		Linger:   *linger,
	}
	if *start != "" {
		if cfg.RecordingStart, err = parseStart(*start); err != nil {
			log.Fatalf("❌ Configuration error: %v", err)
		}
	}

	a, err := app.New(cfg, app.WithLogger(logpkg.L()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Usage: soundloc -input <dir|file.wav> [-config rig.yaml] | -watch <dir> | -follow <ws url>")
		log.Fatalf("❌ Configuration error: %v", err)
	}
	if err := a.Init(ctx); err != nil {
		log.Fatalf("❌ Initialization failed: %v", err)
	}
	defer a.Shutdown()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("❌ Runtime error: %v", err)
	}
}

func parseStart(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05.000", s, time.Local)
}
