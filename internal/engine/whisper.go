// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/scribedev/scribed/internal/model"
)

// WhisperTool drives the ASR command. The tool reads one WAV file and prints
// a single JSON document on stdout:
//
//	{"text": "...", "language": "en", "avg_logprob": -0.31,
//	 "no_speech_prob": 0.02, "words": [{"word": "...", "start": 0.1, "end": 0.4}]}
type WhisperTool struct {
	tool
	modelDir string
}

// NewWhisperTool creates the ASR adapter around the configured command.
func NewWhisperTool(bin, modelDir string) *WhisperTool {
	return &WhisperTool{tool: tool{name: "whisper", bin: bin}, modelDir: modelDir}
}

// Transcribe implements Transcriber.
func (w *WhisperTool) Transcribe(ctx context.Context, req TranscribeRequest) (model.TranscriptionResult, error) {
	args := []string{
		"--input", req.AudioPath,
		"--model", req.Model,
		"--compute-type", req.ComputeType,
		"--device", req.Device,
		"--batch-size", strconv.Itoa(req.BatchSize),
	}
	if w.modelDir != "" {
		args = append(args, "--model-dir", w.modelDir)
	}
	if req.WordTimestamps {
		args = append(args, "--word-timestamps")
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}

	out, err := w.run(ctx, args, nil)
	if err != nil {
		return model.TranscriptionResult{}, err
	}
	var res model.TranscriptionResult
	if err := json.Unmarshal(out, &res); err != nil {
		return model.TranscriptionResult{}, fmt.Errorf("decode whisper output: %w", err)
	}
	return res, nil
}

var _ Transcriber = (*WhisperTool)(nil)
