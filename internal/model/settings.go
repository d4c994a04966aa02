// SPDX-License-Identifier: MIT

package model

// Settings are frozen onto a job at admission time and never mutated after.
type Settings struct {
	Model          string         `json:"model"`        // tiny|base|small|medium|large-v2|large-v3
	ComputeType    string         `json:"compute_type"` // float16|float32|int8
	Device         string         `json:"device"`       // cuda|cpu
	BatchSize      int            `json:"batch_size"`   // 1..32
	WordTimestamps bool           `json:"word_timestamps"`
	AllowDowngrade bool           `json:"allow_downgrade"` // retry once with int8 on GPU OOM
	VAD            VADConfig      `json:"vad"`
	Demucs         DemucsSettings `json:"demucs"`
}

// VADConfig tunes voice-activity segmentation. The defaults are tuned to
// reject background-music false positives.
type VADConfig struct {
	Onset        float64 `json:"onset"`
	Offset       float64 `json:"offset"`
	MinSpeechMS  int     `json:"min_speech_ms"`
	MinSilenceMS int     `json:"min_silence_ms"`
}

// DemucsMode selects when vocal separation is applied.
type DemucsMode string

const (
	DemucsAuto     DemucsMode = "auto"
	DemucsAlways   DemucsMode = "always"
	DemucsNever    DemucsMode = "never"
	DemucsOnDemand DemucsMode = "on_demand"
)

// BreakAction selects the circuit-breaker reaction once it fires.
type BreakAction string

const (
	BreakContinue BreakAction = "continue" // mark segment with [?] and keep going
	BreakFallback BreakAction = "fallback" // stop using separated vocals
	BreakFail     BreakAction = "fail"     // abort the job
	BreakPause    BreakAction = "pause"    // transition the job to paused
)

// DemucsSettings governs vocal separation and the transcription-quality
// circuit breaker.
type DemucsSettings struct {
	Enabled              bool        `json:"enabled"`
	Mode                 DemucsMode  `json:"mode"`
	WeakModel            string      `json:"weak_model"`
	StrongModel          string      `json:"strong_model"`
	FallbackModel        string      `json:"fallback_model"`
	AutoEscalation       bool        `json:"auto_escalation"`
	MaxEscalations       int         `json:"max_escalations"`
	LightThreshold       float64     `json:"light_threshold"` // energy ratio in [0,1]
	HeavyThreshold       float64     `json:"heavy_threshold"`
	RetryLogprob         float64     `json:"retry_threshold_logprob"`
	RetryNoSpeech        float64     `json:"retry_threshold_no_speech"`
	BreakerEnabled       bool        `json:"breaker_enabled"`
	ConsecutiveThreshold int         `json:"consecutive_threshold"`
	RatioThreshold       float64     `json:"ratio_threshold"`
	OnBreak              BreakAction `json:"on_break"`
	QualityPreset        string      `json:"quality_preset,omitempty"`
}

// DefaultSettings returns the settings applied when the start request omits
// a field. All numeric defaults come from empirical tuning of the pipeline.
func DefaultSettings() Settings {
	return Settings{
		Model:          "large-v3",
		ComputeType:    "float16",
		Device:         "cuda",
		BatchSize:      8,
		WordTimestamps: true,
		VAD: VADConfig{
			Onset:        0.65,
			Offset:       0.45,
			MinSpeechMS:  400,
			MinSilenceMS: 400,
		},
		Demucs: DemucsSettings{
			Enabled:              true,
			Mode:                 DemucsAuto,
			WeakModel:            "htdemucs",
			StrongModel:          "htdemucs_ft",
			FallbackModel:        "htdemucs_ft",
			AutoEscalation:       true,
			MaxEscalations:       1,
			LightThreshold:       0.2,
			HeavyThreshold:       0.5,
			RetryLogprob:         -0.8,
			RetryNoSpeech:        0.6,
			BreakerEnabled:       true,
			ConsecutiveThreshold: 3,
			RatioThreshold:       0.2,
			OnBreak:              BreakContinue,
		},
	}
}
