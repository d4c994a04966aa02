// SPDX-License-Identifier: MIT

// Package media wraps the external encoder (ffmpeg/ffprobe) behind its
// observable contract: decode to 16 kHz mono PCM, grab a thumbnail, probe
// duration, cut sample windows, and compute waveform peaks.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/log"
)

// Converter invokes ffmpeg/ffprobe subprocesses.
type Converter struct {
	FFmpeg  string
	FFprobe string
}

// NewConverter builds a converter; empty paths fall back to $PATH lookup.
func NewConverter(ffmpeg, ffprobe string) *Converter {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Converter{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

func (c *Converter) runFFmpeg(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, c.FFmpeg, full...) // #nosec G204 -- operator-configured binary
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errkind.E(errkind.KindCanceled, ctx.Err())
		}
		tail := tailOf(stderr.String(), 5)
		log.WithComponentFromContext(ctx, "media").Error().
			Str("event", "ffmpeg.failed").
			Str("stderr", tail).
			Msg("ffmpeg invocation failed")
		return errkind.Errorf(errkind.KindMediaDecode, "ffmpeg: %v: %s", err, tail)
	}
	return nil
}

// ExtractAudio decodes the source into 16 kHz mono PCM WAV.
func (c *Converter) ExtractAudio(ctx context.Context, src, dst string) error {
	return c.runFFmpeg(ctx,
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	)
}

// ExtractThumbnail grabs the first video frame as JPEG. Sources without a
// video stream return an error the caller may ignore.
func (c *Converter) ExtractThumbnail(ctx context.Context, src, dst string) error {
	return c.runFFmpeg(ctx,
		"-i", src,
		"-vframes", "1",
		"-q:v", "3",
		dst,
	)
}

// CutWindow copies a [start, start+dur) window of a WAV file to dst,
// re-encoded as 16 kHz mono PCM so downstream tools see a uniform format.
func (c *Converter) CutWindow(ctx context.Context, src, dst string, startSec, durSec float64) error {
	return c.runFFmpeg(ctx,
		"-ss", formatSeconds(startSec),
		"-t", formatSeconds(durSec),
		"-i", src,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dst,
	)
}

// Duration probes the container duration in seconds.
func (c *Converter) Duration(ctx context.Context, src string) (float64, error) {
	cmd := exec.CommandContext(ctx, c.FFprobe, // #nosec G204 -- operator-configured binary
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		src,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, errkind.E(errkind.KindCanceled, ctx.Err())
		}
		return 0, errkind.Errorf(errkind.KindMediaDecode, "ffprobe %s: %v", src, err)
	}
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, errkind.Errorf(errkind.KindMediaDecode, "ffprobe reported no duration for %s", src)
	}
	return dur, nil
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tailOf(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
