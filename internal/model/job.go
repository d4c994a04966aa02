// SPDX-License-Identifier: MIT

// Package model holds the shared data types of the transcription pipeline:
// jobs, settings, segments, checkpoints and event payloads.
package model

import "time"

// JobStatus is the client-visible lifecycle of a job.
type JobStatus string

const (
	StatusCreated     JobStatus = "created"
	StatusQueued      JobStatus = "queued"
	StatusProcessing  JobStatus = "processing"
	StatusPaused      JobStatus = "paused"
	StatusFinished    JobStatus = "finished"
	StatusFailed      JobStatus = "failed"
	StatusCanceled    JobStatus = "canceled"
	StatusInterrupted JobStatus = "interrupted"
)

// IsTerminal returns true if the status is a final state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Phase is a named stage of the pipeline. Phases advance monotonically
// within a run; a checkpoint restore may rewind but never skip ahead.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseExtract      Phase = "extract"
	PhaseBGMDetect    Phase = "bgm_detect"
	PhaseDemucsGlobal Phase = "demucs_global"
	PhaseSplit        Phase = "split"
	PhaseTranscribe   Phase = "transcribe"
	PhaseAlign        Phase = "align"
	PhaseSRT          Phase = "srt"
	PhaseComplete     Phase = "complete"
)

// PhaseOrder lists the pipeline phases in execution order.
var PhaseOrder = []Phase{
	PhasePending,
	PhaseExtract,
	PhaseBGMDetect,
	PhaseDemucsGlobal,
	PhaseSplit,
	PhaseTranscribe,
	PhaseAlign,
	PhaseSRT,
	PhaseComplete,
}

// PhaseIndex returns the position of p in PhaseOrder, or -1.
func PhaseIndex(p Phase) int {
	for i, q := range PhaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// DefaultPhaseWeights maps each working phase to its share of the global
// progress percentage. The weights sum to 100.
func DefaultPhaseWeights() map[Phase]float64 {
	return map[Phase]float64{
		PhaseExtract:      5,
		PhaseBGMDetect:    3,
		PhaseDemucsGlobal: 7,
		PhaseSplit:        5,
		PhaseTranscribe:   50,
		PhaseAlign:        20,
		PhaseSRT:          10,
	}
}

// Job is the unit of work tracked by the registry.
type Job struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	Title        string    `json:"title"`
	Status       JobStatus `json:"status"`
	Phase        Phase     `json:"phase"`
	Percent      float64   `json:"percent"`
	PhasePercent float64   `json:"phase_percent"`
	Message      string    `json:"message,omitempty"`
	Language     string    `json:"language,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Settings     *Settings `json:"settings,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Settings != nil {
		s := *j.Settings
		cp.Settings = &s
	}
	return &cp
}

// QueueState is the snapshot returned by the supervisor.
type QueueState struct {
	Queue       []string        `json:"queue"`
	RunningID   string          `json:"running,omitempty"`
	Interrupted string          `json:"interrupted,omitempty"`
	Jobs        map[string]*Job `json:"jobs,omitempty"`
}

// PrioritizeMode selects how a job jumps the queue.
type PrioritizeMode string

const (
	PrioritizeGentle PrioritizeMode = "gentle" // head of queue, runner undisturbed
	PrioritizeForce  PrioritizeMode = "force"  // additionally pause the running job
)
