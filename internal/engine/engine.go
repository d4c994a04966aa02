// SPDX-License-Identifier: MIT

// Package engine abstracts the heavyweight inference primitives of the
// pipeline: speech-to-text, voice-activity detection, forced alignment and
// vocal separation. Each primitive runs as an external tool process with
// JSON I/O; internals of the models are out of scope for the orchestrator.
package engine

import (
	"context"

	"github.com/scribedev/scribed/internal/model"
)

// TranscribeRequest describes one ASR invocation over a single segment file.
type TranscribeRequest struct {
	AudioPath      string // segment WAV, 16 kHz mono PCM
	Model          string
	ComputeType    string
	Device         string
	BatchSize      int
	WordTimestamps bool
	Language       string // empty until detected
}

// Transcriber converts one audio segment into text with quality scores.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscribeRequest) (model.TranscriptionResult, error)
}

// VoiceDetector segments a full audio file into speech spans.
type VoiceDetector interface {
	DetectSegments(ctx context.Context, audioPath string, cfg model.VADConfig) ([]model.Segment, error)
}

// AlignRequest describes a forced-alignment run over the full transcript.
type AlignRequest struct {
	AudioPath string
	Language  string
	Segments  []model.Segment
	Results   []model.TranscriptionResult
}

// Aligner produces word-level timestamps against a known transcript.
// Progress is reported as a fraction in [0,1]; the callback may be nil.
type Aligner interface {
	Align(ctx context.Context, req AlignRequest, progress func(float64)) ([]model.Segment, error)
}

// Separator extracts the vocal stem of an audio file.
type Separator interface {
	// Separate writes the vocals of inPath to outPath using the named model.
	Separate(ctx context.Context, inPath, outPath, modelName string) error
}

// Set bundles the four primitives handed to the executor.
type Set struct {
	Transcriber   Transcriber
	VoiceDetector VoiceDetector
	Aligner       Aligner
	Separator     Separator
}
