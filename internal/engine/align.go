// SPDX-License-Identifier: MIT

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
)

// AlignTool drives the forced-alignment command. The transcript goes in on
// stdin as JSON; the tool streams line-delimited JSON on stdout:
//
//	{"progress": 0.42}
//	{"segments": [{"index": 0, "start_sec": ..., "words": [...]}, ...]}
//
// The segments line terminates the run.
type AlignTool struct {
	tool
}

// NewAlignTool creates the alignment adapter around the configured command.
func NewAlignTool(bin string) *AlignTool {
	return &AlignTool{tool: tool{name: "align", bin: bin}}
}

type alignInput struct {
	Language string                      `json:"language,omitempty"`
	Segments []model.Segment             `json:"segments"`
	Results  []model.TranscriptionResult `json:"results"`
}

type alignLine struct {
	Progress *float64        `json:"progress,omitempty"`
	Segments []model.Segment `json:"segments,omitempty"`
}

// Align implements Aligner. Alignment is atomic: a failure mid-stream
// discards all partial output.
func (a *AlignTool) Align(ctx context.Context, req AlignRequest, progress func(float64)) ([]model.Segment, error) {
	stdin, err := json.Marshal(alignInput{Language: req.Language, Segments: req.Segments, Results: req.Results})
	if err != nil {
		return nil, fmt.Errorf("encode align input: %w", err)
	}

	parts := strings.Fields(a.bin)
	if len(parts) == 0 {
		return nil, errkind.Errorf(errkind.KindModelLoad, "align command not configured")
	}
	args := append(parts[1:], "--audio", req.AudioPath)
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	cmd := exec.CommandContext(ctx, parts[0], args...) // #nosec G204 -- operator-configured tool
	cmd.Stdin = bytes.NewReader(stdin)
	ring := newLineRing(64)
	cmd.Stderr = ring
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("align stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		metrics.ToolExitTotal.WithLabelValues(a.name, "error").Inc()
		return nil, fmt.Errorf("start align tool: %w", err)
	}

	var aligned []model.Segment
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var line alignLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue // tolerate diagnostic chatter on stdout
		}
		if line.Progress != nil && progress != nil {
			progress(*line.Progress)
		}
		if line.Segments != nil {
			aligned = line.Segments
		}
	}
	scanErr := scanner.Err()
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		metrics.ToolExitTotal.WithLabelValues(a.name, "error").Inc()
		if ctx.Err() != nil {
			return nil, errkind.E(errkind.KindCanceled, ctx.Err())
		}
		return nil, classifyToolError(a.name, err, ring)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read align output: %w", scanErr)
	}
	if aligned == nil {
		return nil, fmt.Errorf("align tool produced no segments: %s", lastLines(ring, 5))
	}
	metrics.ToolExitTotal.WithLabelValues(a.name, "ok").Inc()
	return aligned, nil
}

var _ Aligner = (*AlignTool)(nil)
