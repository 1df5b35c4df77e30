package audioio

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Recording is a set of time-synchronized channels, one per microphone.
type Recording struct {
	// SampleRate shared by all channels, in Hz.
	SampleRate int

	// Start is the wall-clock time of sample 0. Zero when unknown.
	Start time.Time

	// Channels holds normalized samples in [-1, 1], in microphone order.
	Channels [][]float64
}

// NumChannels returns the channel count.
func (r *Recording) NumChannels() int {
	return len(r.Channels)
}

// Len returns the length of the shortest channel.
func (r *Recording) Len() int {
	if len(r.Channels) == 0 {
		return 0
	}
	n := len(r.Channels[0])
	for _, ch := range r.Channels[1:] {
		n = min(n, len(ch))
	}
	return n
}

// Duration returns the playable duration (shortest channel).
func (r *Recording) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(r.Len()) * time.Second / time.Duration(r.SampleRate)
}

// Offset returns the time of sample index i relative to Start.
func (r *Recording) Offset(i int) time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i) * time.Second / time.Duration(r.SampleRate)
}

// Align drops offsets[c] leading samples from channel c. Offsets come from the
// upstream alignment step (known propagation delay or clap detection).
func (r *Recording) Align(offsets []int) error {
	if len(offsets) != len(r.Channels) {
		return fmt.Errorf("%w: %d offsets for %d channels", ErrInvalidOffset, len(offsets), len(r.Channels))
	}
	for c, off := range offsets {
		if off < 0 || off > len(r.Channels[c]) {
			return fmt.Errorf("%w: channel %d offset %d of %d samples", ErrInvalidOffset, c, off, len(r.Channels[c]))
		}
	}
	for c, off := range offsets {
		r.Channels[c] = r.Channels[c][off:]
	}
	return nil
}

// FromWAV converts a decoded WAV into a Recording.
func FromWAV(w *WAV) (*Recording, error) {
	if len(w.Channels) == 0 {
		return nil, ErrNoChannels
	}
	rec := &Recording{SampleRate: w.SampleRate, Channels: make([][]float64, len(w.Channels))}
	for c, ch := range w.Channels {
		rec.Channels[c] = Normalize(ch)
	}
	return rec, nil
}

// LoadMultichannel reads a single interleaved WAV with one channel per microphone.
func LoadMultichannel(path string) (*Recording, error) {
	w, err := ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	return FromWAV(w)
}

// LoadMicFiles reads one mono WAV per microphone, in the given order. Files recorded
// at a different rate than the first are resampled onto the first file's rate.
func LoadMicFiles(paths []string) (*Recording, error) {
	if len(paths) == 0 {
		return nil, ErrNoChannels
	}

	rec := &Recording{Channels: make([][]float64, 0, len(paths))}
	for i, p := range paths {
		w, err := ReadWAVFile(p)
		if err != nil {
			return nil, err
		}
		if len(w.Channels) != 1 {
			return nil, fmt.Errorf("%s: %w: expected mono, got %d channels", p, ErrUnsupportedFormat, len(w.Channels))
		}
		ch := Normalize(w.Channels[0])
		if i == 0 {
			rec.SampleRate = w.SampleRate
		} else if w.SampleRate != rec.SampleRate {
			ch = Resample(ch, w.SampleRate, rec.SampleRate)
		}
		rec.Channels = append(rec.Channels, ch)
	}
	return rec, nil
}

var micFilePattern = regexp.MustCompile(`(?i)mic_?(\d+)\.wav$`)

// FindMicFiles lists the per-microphone WAV files in dir ordered by microphone number.
// It matches names such as mic_1.wav, aligned_mic_2.wav and denoised_mic3.wav.
func FindMicFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		return nil, err
	}

	type micFile struct {
		index int
		path  string
	}
	var files []micFile
	seen := make(map[int]string)
	for _, m := range matches {
		sub := micFilePattern.FindStringSubmatch(filepath.Base(m))
		if sub == nil {
			continue
		}
		idx, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		if prev, ok := seen[idx]; ok {
			return nil, fmt.Errorf("microphone %d has two files: %s and %s", idx, prev, m)
		}
		seen[idx] = m
		files = append(files, micFile{index: idx, path: m})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no mic_N.wav files in %s", ErrNoChannels, dir)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}
