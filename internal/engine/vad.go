// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/scribedev/scribed/internal/model"
)

// VADTool drives the voice-activity command. The tool reads one WAV file and
// prints a JSON array of speech spans: [{"start": 1.2, "end": 4.7}, ...].
type VADTool struct {
	tool
}

// NewVADTool creates the VAD adapter around the configured command.
func NewVADTool(bin string) *VADTool {
	return &VADTool{tool: tool{name: "vad", bin: bin}}
}

// DetectSegments implements VoiceDetector. Indices are assigned in order.
func (v *VADTool) DetectSegments(ctx context.Context, audioPath string, cfg model.VADConfig) ([]model.Segment, error) {
	args := []string{
		"--input", audioPath,
		"--onset", strconv.FormatFloat(cfg.Onset, 'f', -1, 64),
		"--offset", strconv.FormatFloat(cfg.Offset, 'f', -1, 64),
		"--min-speech-ms", strconv.Itoa(cfg.MinSpeechMS),
		"--min-silence-ms", strconv.Itoa(cfg.MinSilenceMS),
	}
	out, err := v.run(ctx, args, nil)
	if err != nil {
		return nil, err
	}
	var spans []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	}
	if err := json.Unmarshal(out, &spans); err != nil {
		return nil, fmt.Errorf("decode vad output: %w", err)
	}
	segments := make([]model.Segment, 0, len(spans))
	for i, sp := range spans {
		if sp.End <= sp.Start {
			continue
		}
		segments = append(segments, model.Segment{Index: i, StartSec: sp.Start, EndSec: sp.End})
	}
	return segments, nil
}

var _ VoiceDetector = (*VADTool)(nil)
