// Package audioio loads and writes the synchronized multi-channel recordings the
// localizer consumes.
//
// Recordings arrive from the acquisition side as 16-bit PCM WAV files, either one
// mono file per microphone (mic_1.wav .. mic_N.wav) or a single interleaved
// multi-channel file. Samples are normalized to [-1, 1] for analysis.
package audioio

import "math"

// pcmScale maps int16 full scale onto [-1, 1).
const pcmScale = 32768.0

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Normalize converts PCM16 samples to float64 in [-1, 1).
func Normalize(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / pcmScale
	}
	return out
}

// Denormalize converts float samples back to PCM16, clipping to the int16 range.
func Denormalize(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(s * pcmScale)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Interleave merges equal-length channels into one frame-ordered slice.
// Channels are truncated to the shortest one.
func Interleave(channels [][]int16) []int16 {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	for _, ch := range channels[1:] {
		n = min(n, len(ch))
	}
	out := make([]int16, n*len(channels))
	for i := 0; i < n; i++ {
		for c, ch := range channels {
			out[i*len(channels)+c] = ch[i]
		}
	}
	return out
}

// Deinterleave splits frame-ordered samples into per-channel slices.
// A trailing partial frame is dropped.
func Deinterleave(samples []int16, channels int) [][]int16 {
	if channels <= 0 {
		return nil
	}
	n := len(samples) / channels
	out := make([][]int16, channels)
	for c := range out {
		out[c] = make([]int16, n)
	}
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			out[c][i] = samples[i*channels+c]
		}
	}
	return out
}
