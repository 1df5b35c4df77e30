// simulate - write synthetic per-microphone WAVs for a robot action plan
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-soundloc/internal/config"
	"github.com/teslashibe/go-soundloc/pkg/audioio"
	"github.com/teslashibe/go-soundloc/pkg/geometry"
	"github.com/teslashibe/go-soundloc/pkg/ingest"
	"github.com/teslashibe/go-soundloc/pkg/rig"
	"github.com/teslashibe/go-soundloc/pkg/sim"
)

func main() {
	configPath := flag.String("config", "", "Rig config YAML (defaults to the square arena)")
	planPath := flag.String("plan", "", "Robot action plan (.yaml or action CSV); empty for a static source")
	outDir := flag.String("out", "session", "Output directory for mic_N.wav, truth.csv and the done marker")
	x := flag.Float64("x", 0, "Static source X")
	y := flag.Float64("y", 0, "Static source Y")
	hz := flag.Int("hz", 1000, "Static source beep frequency")
	dur := flag.Duration("duration", 2*time.Second, "Static source duration")
	snr := flag.Float64("snr", 30, "Sensor SNR in dB (0 disables noise)")
	seed := flag.Uint64("seed", 1, "Random seed")
	markDone := flag.Bool("done", true, "Write the 'done' marker last, for soundloc -watch")
	flag.Parse()

	rigCfg, err := config.Load(*configPath, "")
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}
	array, err := rigCfg.Array()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	cfg := sim.DefaultConfig()
	cfg.SampleRate = rigCfg.SampleRate
	cfg.SpeedOfSound = rigCfg.SpeedOfSound
	cfg.SNR = *snr
	cfg.Seed = *seed
	if rigCfg.SourceZ != nil {
		cfg.SourceZ = *rigCfg.SourceZ
	} else {
		cfg.SourceZ = array.Centroid().Z
	}

	var src sim.Source = sim.Static{Position: geometry.Point2{X: *x, Y: *y}, Hz: *hz, Length: *dur}
	if *planPath != "" {
		plan, err := rig.LoadFile(*planPath)
		if err != nil {
			log.Fatalf("❌ Plan: %v", err)
		}
		src = sim.PlanSource{Plan: plan}
	}

	fmt.Printf("🎛️  Rendering %s of audio for %d microphones at %d Hz\n", src.Duration(), array.Len(), cfg.SampleRate)
	rec, err := sim.Render(array, src, cfg)
	if err != nil {
		log.Fatalf("❌ Render: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("❌ Output: %v", err)
	}
	for i, ch := range sim.ToPCM(rec) {
		path := filepath.Join(*outDir, fmt.Sprintf("mic_%d.wav", i+1))
		if err := audioio.WriteWAVFile(path, rec.SampleRate, [][]int16{ch}); err != nil {
			log.Fatalf("❌ Write %s: %v", path, err)
		}
	}

	if err := writeTruth(filepath.Join(*outDir, "truth.csv"), src); err != nil {
		log.Fatalf("❌ Truth: %v", err)
	}
	if *markDone {
		if err := os.WriteFile(filepath.Join(*outDir, ingest.DefaultMarker), nil, 0o644); err != nil {
			log.Fatalf("❌ Marker: %v", err)
		}
	}
	fmt.Printf("✅ Wrote %s\n", *outDir)
}

// writeTruth samples the source path every 50ms as t,x,y.
func writeTruth(path string, src sim.Source) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "t,x,y"); err != nil {
		return err
	}
	step := 50 * time.Millisecond
	for t := time.Duration(0); t <= src.Duration(); t += step {
		p, _ := src.At(t)
		if _, err := fmt.Fprintf(f, "%.3f,%.4f,%.4f\n", t.Seconds(), p.X, p.Y); err != nil {
			return err
		}
	}
	return f.Close()
}
