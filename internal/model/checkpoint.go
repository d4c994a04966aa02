// SPDX-License-Identifier: MIT

package model

import "time"

// Word is a single aligned token with word-level timestamps.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one VAD-delimited span of audio that is transcribed as a unit.
// Times are monotonic within the job; segments never overlap.
type Segment struct {
	Index    int     `json:"index"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text,omitempty"`
	Words    []Word  `json:"words,omitempty"`
}

// TranscriptionResult is the raw ASR output for one segment.
type TranscriptionResult struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	Language     string  `json:"language,omitempty"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	Words        []Word  `json:"words,omitempty"`
}

// BGMLevel is the outcome of background-music detection.
type BGMLevel string

const (
	BGMNone  BGMLevel = "none"
	BGMLight BGMLevel = "light"
	BGMHeavy BGMLevel = "heavy"
)

// DemucsState is the persisted vocal-separation sub-state of a run.
type DemucsState struct {
	Mode                 DemucsMode `json:"mode"`
	BGMLevel             BGMLevel   `json:"bgm_level"`
	BGMRatios            []float64  `json:"bgm_ratios,omitempty"`
	GlobalSeparationDone bool       `json:"global_separation_done"`
	VocalsPath           string     `json:"vocals_path,omitempty"`
	CurrentModel         string     `json:"current_model,omitempty"`
	EscalationCount      int        `json:"escalation_count"`
	RetryTriggered       bool       `json:"retry_triggered"`
}

// BreakerState is the persisted circuit-breaker state of a run.
type BreakerState struct {
	ConsecutiveRetries int      `json:"consecutive_retries"`
	TotalRetries       int      `json:"total_retries"`
	ProcessedSegments  int      `json:"processed_segments"`
	EscalationCount    int      `json:"escalation_count"`
	CurrentModel       string   `json:"current_model,omitempty"`
	EscalationHistory  []string `json:"escalation_history,omitempty"`
	Tripped            bool     `json:"tripped"`
	FallbackToOriginal bool     `json:"fallback_to_original"`
}

// Checkpoint is the durable partial-result record enabling resumption.
// Readers must tolerate unknown keys and missing optional keys.
type Checkpoint struct {
	Phase            Phase                 `json:"phase"`
	ProcessingMode   string                `json:"processing_mode,omitempty"`
	TotalSegments    int                   `json:"total_segments"`
	ProcessedIndices []int                 `json:"processed_indices"`
	Segments         []Segment             `json:"segments,omitempty"`
	Unaligned        []TranscriptionResult `json:"unaligned_results,omitempty"`
	Language         string                `json:"language,omitempty"`
	Demucs           DemucsState           `json:"demucs_state"`
	Breaker          BreakerState          `json:"circuit_breaker_state"`
	Timestamp        time.Time             `json:"timestamp"`
}

// Processed reports whether segment index i is already transcribed.
func (c *Checkpoint) Processed(i int) bool {
	for _, p := range c.ProcessedIndices {
		if p == i {
			return true
		}
	}
	return false
}

// MarkProcessed records index i keeping ProcessedIndices strictly sorted.
func (c *Checkpoint) MarkProcessed(i int) {
	pos := 0
	for pos < len(c.ProcessedIndices) && c.ProcessedIndices[pos] < i {
		pos++
	}
	if pos < len(c.ProcessedIndices) && c.ProcessedIndices[pos] == i {
		return
	}
	c.ProcessedIndices = append(c.ProcessedIndices, 0)
	copy(c.ProcessedIndices[pos+1:], c.ProcessedIndices[pos:])
	c.ProcessedIndices[pos] = i
}
