// SPDX-License-Identifier: MIT

package model

// EventType names an SSE event. Per-job and global channels use disjoint
// sets except for initial_state.
type EventType string

const (
	// Per-job channel.
	EventInitialState       EventType = "initial_state"
	EventProgress           EventType = "progress"
	EventSegment            EventType = "segment"
	EventAligned            EventType = "aligned"
	EventSignal             EventType = "signal"
	EventSeparationStrategy EventType = "separation_strategy"
	EventModelEscalated     EventType = "model_escalated"
	EventBreakerHandled     EventType = "circuit_breaker_handled"
	EventProxyProgress      EventType = "proxy_progress"
	EventProxyComplete      EventType = "proxy_complete"
	EventPing               EventType = "ping"

	// Global channel.
	EventQueueUpdate EventType = "queue_update"
	EventJobStatus   EventType = "job_status"
	EventJobProgress EventType = "job_progress"
)

// Lifecycle signals carried by EventSignal payloads.
const (
	SignalJobComplete = "job_complete"
	SignalJobFailed   = "job_failed"
	SignalJobPaused   = "job_paused"
	SignalJobResumed  = "job_resumed"
	SignalJobCanceled = "job_canceled"
)

// Event is one message on an SSE channel. Data is JSON-serializable.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id,omitempty"`
	Data  any       `json:"data,omitempty"`
}

// Critical reports whether the event must never be dropped by a full
// subscriber buffer. Terminal signals are small and irreplaceable.
func (e Event) Critical() bool {
	return e.Type == EventSignal
}

// ProgressPayload is the body of EventProgress and EventJobProgress.
type ProgressPayload struct {
	Phase        Phase   `json:"phase"`
	PhasePercent float64 `json:"phase_percent"`
	Percent      float64 `json:"percent"`
	Message      string  `json:"message,omitempty"`
	Processed    int     `json:"processed"`
	Total        int     `json:"total"`
	Language     string  `json:"language,omitempty"`
}

// SegmentPayload is the body of EventSegment.
type SegmentPayload struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SignalPayload is the body of EventSignal.
type SignalPayload struct {
	Signal string `json:"signal"`
	Reason string `json:"reason,omitempty"`
}

// StrategyPayload is the body of EventSeparationStrategy.
type StrategyPayload struct {
	BGMLevel      BGMLevel  `json:"bgm_level"`
	BGMRatios     []float64 `json:"bgm_ratios"`
	InitialModel  string    `json:"initial_model,omitempty"`
	FallbackModel string    `json:"fallback_model,omitempty"`
	GlobalDemucs  bool      `json:"global_demucs"`
}

// EscalationPayload is the body of EventModelEscalated.
type EscalationPayload struct {
	FromModel       string `json:"from_model"`
	ToModel         string `json:"to_model"`
	EscalationCount int    `json:"escalation_count"`
	SegmentIndex    int    `json:"segment_index"`
}

// BreakerPayload is the body of EventBreakerHandled.
type BreakerPayload struct {
	Action             BreakAction `json:"action"`
	ConsecutiveRetries int         `json:"consecutive_retries"`
	TotalRetries       int         `json:"total_retries"`
	ProcessedSegments  int         `json:"processed_segments"`
	SegmentIndex       int         `json:"segment_index"`
}

// StatusPayload is the body of EventJobStatus on the global channel.
type StatusPayload struct {
	ID      string    `json:"id"`
	Status  JobStatus `json:"status"`
	Percent float64   `json:"percent"`
	Message string    `json:"message,omitempty"`
}

// QueuePayload is the body of EventQueueUpdate on the global channel.
type QueuePayload struct {
	Queue       []string `json:"queue"`
	RunningID   string   `json:"running,omitempty"`
	Interrupted string   `json:"interrupted,omitempty"`
}

// InitialStatePayload is the body of EventInitialState.
type InitialStatePayload struct {
	Job        *Job        `json:"job,omitempty"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	Jobs       []*Job      `json:"jobs,omitempty"`  // global channel
	Queue      []string    `json:"queue,omitempty"` // global channel
	RunningID  string      `json:"running,omitempty"`
}
