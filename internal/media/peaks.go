// SPDX-License-Identifier: MIT

package media

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
)

// DefaultPeakSamples is the editor's default waveform resolution.
const DefaultPeakSamples = 2000

// Peaks downsamples a WAV file into n buckets. Each bucket carries the
// sample with the largest magnitude, preserving sign, normalized to [-1,1].
func Peaks(path string, n int) ([]float64, error) {
	if n <= 0 {
		n = DefaultPeakSamples
	}
	f, err := os.Open(path) // #nosec G304 -- path is store-derived
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return make([]float64, n), nil
	}

	norm := 1.0
	if dec.BitDepth > 0 {
		norm = float64(int64(1) << (dec.BitDepth - 1))
	}

	peaks := make([]float64, n)
	total := len(buf.Data)
	for b := 0; b < n; b++ {
		lo := b * total / n
		hi := (b + 1) * total / n
		if hi <= lo {
			hi = lo + 1
		}
		if hi > total {
			hi = total
		}
		var peak float64
		for _, s := range buf.Data[lo:hi] {
			v := float64(s) / norm
			if math.Abs(v) > math.Abs(peak) {
				peak = v
			}
		}
		peaks[b] = clamp1(peak)
	}
	return peaks, nil
}

// RMS computes the root mean square energy of a whole WAV file, used for
// background-music ratio estimation.
func RMS(path string) (float64, error) {
	f, err := os.Open(path) // #nosec G304 -- path is store-derived
	if err != nil {
		return 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return 0, nil
	}
	norm := 1.0
	if dec.BitDepth > 0 {
		norm = float64(int64(1) << (dec.BitDepth - 1))
	}
	var sum float64
	for _, s := range buf.Data {
		v := float64(s) / norm
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(buf.Data))), nil
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
