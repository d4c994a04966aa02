// SPDX-License-Identifier: MIT

// Package config loads daemon configuration with the precedence
// ENV > config file > defaults, and validates per-job settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scribedev/scribed/internal/model"
)

// Config is the immutable daemon configuration resolved at startup.
type Config struct {
	RootDir string `yaml:"root_dir"`
	Listen  string `yaml:"listen"`

	AutoResumeOnStartup bool          `yaml:"auto_resume_on_startup"`
	SSEHeartbeat        time.Duration `yaml:"sse_heartbeat"`
	SSESubscriberBuffer int           `yaml:"sse_subscriber_buffer"`

	// PhaseWeights overrides the default progress weight table. Partial
	// overrides merge over the defaults.
	PhaseWeights map[model.Phase]float64 `yaml:"phase_weights"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// External inference tools, invoked as subprocesses with JSON I/O.
	WhisperCmd string `yaml:"whisper_cmd"`
	VADCmd     string `yaml:"vad_cmd"`
	AlignCmd   string `yaml:"align_cmd"`
	DemucsCmd  string `yaml:"demucs_cmd"`
	ModelDir   string `yaml:"model_dir"`

	HistoryPath string `yaml:"history_path"`
	WatchInput  bool   `yaml:"watch_input"`

	TrustedProxies string `yaml:"trusted_proxies"`

	Telemetry TelemetryConfig `yaml:"telemetry"`

	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig controls the OpenTelemetry trace exporter.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // grpc|http|noop
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

func defaults() Config {
	return Config{
		RootDir:             "./",
		Listen:              ":8580",
		AutoResumeOnStartup: true,
		SSEHeartbeat:        15 * time.Second,
		SSESubscriberBuffer: 256,
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		WhisperCmd:          "scribed-whisper",
		VADCmd:              "scribed-vad",
		AlignCmd:            "scribed-align",
		DemucsCmd:           "scribed-demucs",
		WatchInput:          true,
		LogLevel:            "info",
		Telemetry: TelemetryConfig{
			ExporterType: "noop",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// Load resolves the configuration. path may be empty; a missing file is not
// an error, a malformed one is.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.SSESubscriberBuffer < 1 {
		return cfg, fmt.Errorf("sse_subscriber_buffer must be positive, got %d", cfg.SSESubscriberBuffer)
	}
	if cfg.SSEHeartbeat <= 0 {
		return cfg, fmt.Errorf("sse_heartbeat must be positive, got %s", cfg.SSEHeartbeat)
	}
	if err := validateWeights(cfg.PhaseWeights); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.RootDir = ParseString("SCRIBED_ROOT", cfg.RootDir)
	cfg.Listen = ParseString("SCRIBED_LISTEN", cfg.Listen)
	cfg.AutoResumeOnStartup = ParseBool("SCRIBED_AUTO_RESUME", cfg.AutoResumeOnStartup)
	cfg.SSEHeartbeat = ParseDuration("SCRIBED_SSE_HEARTBEAT_SECONDS", cfg.SSEHeartbeat)
	cfg.SSESubscriberBuffer = ParseInt("SCRIBED_SSE_SUBSCRIBER_BUFFER", cfg.SSESubscriberBuffer)
	cfg.FFmpegPath = ParseString("SCRIBED_FFMPEG", cfg.FFmpegPath)
	cfg.FFprobePath = ParseString("SCRIBED_FFPROBE", cfg.FFprobePath)
	cfg.WhisperCmd = ParseString("SCRIBED_WHISPER_CMD", cfg.WhisperCmd)
	cfg.VADCmd = ParseString("SCRIBED_VAD_CMD", cfg.VADCmd)
	cfg.AlignCmd = ParseString("SCRIBED_ALIGN_CMD", cfg.AlignCmd)
	cfg.DemucsCmd = ParseString("SCRIBED_DEMUCS_CMD", cfg.DemucsCmd)
	cfg.ModelDir = ParseString("SCRIBED_MODEL_DIR", cfg.ModelDir)
	cfg.HistoryPath = ParseString("SCRIBED_HISTORY_DB", cfg.HistoryPath)
	cfg.WatchInput = ParseBool("SCRIBED_WATCH_INPUT", cfg.WatchInput)
	cfg.TrustedProxies = ParseString("SCRIBED_TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.LogLevel = ParseString("SCRIBED_LOG_LEVEL", cfg.LogLevel)
	cfg.Telemetry.Enabled = ParseBool("SCRIBED_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString("SCRIBED_OTEL_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString("SCRIBED_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
}

// validateWeights rejects negative weights; missing phases fall back to the
// default table entry so partial overrides stay safe.
func validateWeights(w map[model.Phase]float64) error {
	for phase, weight := range w {
		if model.PhaseIndex(phase) < 0 {
			return fmt.Errorf("phase_weights: unknown phase %q", phase)
		}
		if weight < 0 {
			return fmt.Errorf("phase_weights: negative weight for %q", phase)
		}
	}
	return nil
}

// EffectiveWeights merges the configured overrides over the defaults.
func (c Config) EffectiveWeights() map[model.Phase]float64 {
	weights := model.DefaultPhaseWeights()
	for phase, w := range c.PhaseWeights {
		weights[phase] = w
	}
	return weights
}
