// SPDX-License-Identifier: MIT

package media_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/media"
)

// writeWAV encodes samples as a 16-bit mono WAV file and returns its path.
func writeWAV(t *testing.T, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestPeaksBucketsKeepLargestMagnitude(t *testing.T) {
	// Four buckets of four samples each; every bucket has one dominant sample.
	samples := []int{
		100, 16384, 50, -20, // +0.5 dominates
		-8192, 10, 0, 30, // -0.25 dominates
		0, 0, 0, 0, // silence
		32767, -100, 5, 2, // ~+1.0 dominates
	}
	path := writeWAV(t, samples)

	peaks, err := media.Peaks(path, 4)
	require.NoError(t, err)
	require.Len(t, peaks, 4)
	assert.InDelta(t, 0.5, peaks[0], 0.001)
	assert.InDelta(t, -0.25, peaks[1], 0.001)
	assert.Zero(t, peaks[2])
	assert.InDelta(t, 1.0, peaks[3], 0.001)
}

func TestPeaksMoreBucketsThanSamples(t *testing.T) {
	path := writeWAV(t, []int{16384, -16384})

	peaks, err := media.Peaks(path, 10)
	require.NoError(t, err)
	require.Len(t, peaks, 10)
	for _, p := range peaks {
		assert.LessOrEqual(t, math.Abs(p), 1.0)
	}
}

func TestPeaksNonPositiveCountUsesDefault(t *testing.T) {
	path := writeWAV(t, make([]int, 100))

	peaks, err := media.Peaks(path, 0)
	require.NoError(t, err)
	assert.Len(t, peaks, media.DefaultPeakSamples)
}

func TestPeaksRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff"), 0o600))

	_, err := media.Peaks(path, 4)
	require.Error(t, err)

	_, err = media.Peaks(filepath.Join(t.TempDir(), "absent.wav"), 4)
	require.Error(t, err)
}

func TestRMS(t *testing.T) {
	// A constant half-scale signal has RMS 0.5.
	samples := make([]int, 1000)
	for i := range samples {
		samples[i] = 16384
	}
	rms, err := media.RMS(writeWAV(t, samples))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rms, 0.001)

	rms, err = media.RMS(writeWAV(t, make([]int, 1000)))
	require.NoError(t, err)
	assert.Zero(t, rms)
}
