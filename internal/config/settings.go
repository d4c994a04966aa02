// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"fmt"

	"github.com/scribedev/scribed/internal/model"
)

var validModels = map[string]bool{
	"tiny": true, "base": true, "small": true,
	"medium": true, "large-v2": true, "large-v3": true,
}

var validComputeTypes = map[string]bool{
	"float16": true, "float32": true, "int8": true,
}

var validDevices = map[string]bool{"cuda": true, "cpu": true}

var validDemucsModes = map[model.DemucsMode]bool{
	model.DemucsAuto: true, model.DemucsAlways: true,
	model.DemucsNever: true, model.DemucsOnDemand: true,
}

var validBreakActions = map[model.BreakAction]bool{
	model.BreakContinue: true, model.BreakFallback: true,
	model.BreakFail: true, model.BreakPause: true,
}

// ParseSettings decodes a start-request settings document into validated
// Settings. Absent fields keep their defaults; unknown keys are tolerated.
func ParseSettings(raw []byte) (model.Settings, error) {
	s := model.DefaultSettings()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("decode settings: %w", err)
		}
	}
	if err := ValidateSettings(&s); err != nil {
		return s, err
	}
	return s, nil
}

// ValidateSettings checks enumerations and ranges. It normalizes zero values
// back to defaults so a partially filled document stays usable.
func ValidateSettings(s *model.Settings) error {
	def := model.DefaultSettings()

	if s.Model == "" {
		s.Model = def.Model
	}
	if !validModels[s.Model] {
		return fmt.Errorf("settings: unknown model %q", s.Model)
	}
	if s.ComputeType == "" {
		s.ComputeType = def.ComputeType
	}
	if !validComputeTypes[s.ComputeType] {
		return fmt.Errorf("settings: unknown compute_type %q", s.ComputeType)
	}
	if s.Device == "" {
		s.Device = def.Device
	}
	if !validDevices[s.Device] {
		return fmt.Errorf("settings: unknown device %q", s.Device)
	}
	if s.BatchSize == 0 {
		s.BatchSize = def.BatchSize
	}
	if s.BatchSize < 1 || s.BatchSize > 32 {
		return fmt.Errorf("settings: batch_size %d out of range [1,32]", s.BatchSize)
	}

	if s.VAD.Onset == 0 {
		s.VAD.Onset = def.VAD.Onset
	}
	if s.VAD.Offset == 0 {
		s.VAD.Offset = def.VAD.Offset
	}
	if s.VAD.MinSpeechMS == 0 {
		s.VAD.MinSpeechMS = def.VAD.MinSpeechMS
	}
	if s.VAD.MinSilenceMS == 0 {
		s.VAD.MinSilenceMS = def.VAD.MinSilenceMS
	}
	if s.VAD.Onset <= 0 || s.VAD.Onset > 1 || s.VAD.Offset <= 0 || s.VAD.Offset > 1 {
		return fmt.Errorf("settings: vad onset/offset must be in (0,1]")
	}

	d := &s.Demucs
	if d.Mode == "" {
		d.Mode = def.Demucs.Mode
	}
	if !validDemucsModes[d.Mode] {
		return fmt.Errorf("settings: unknown demucs mode %q", d.Mode)
	}
	if d.WeakModel == "" {
		d.WeakModel = def.Demucs.WeakModel
	}
	if d.StrongModel == "" {
		d.StrongModel = def.Demucs.StrongModel
	}
	if d.FallbackModel == "" {
		d.FallbackModel = def.Demucs.FallbackModel
	}
	if d.LightThreshold == 0 {
		d.LightThreshold = def.Demucs.LightThreshold
	}
	if d.HeavyThreshold == 0 {
		d.HeavyThreshold = def.Demucs.HeavyThreshold
	}
	if d.LightThreshold < 0 || d.LightThreshold > 1 || d.HeavyThreshold < 0 || d.HeavyThreshold > 1 {
		return fmt.Errorf("settings: demucs thresholds must be in [0,1]")
	}
	if d.HeavyThreshold < d.LightThreshold {
		return fmt.Errorf("settings: heavy_threshold %v below light_threshold %v", d.HeavyThreshold, d.LightThreshold)
	}
	if d.RetryLogprob == 0 {
		d.RetryLogprob = def.Demucs.RetryLogprob
	}
	if d.RetryNoSpeech == 0 {
		d.RetryNoSpeech = def.Demucs.RetryNoSpeech
	}
	if d.ConsecutiveThreshold == 0 {
		d.ConsecutiveThreshold = def.Demucs.ConsecutiveThreshold
	}
	if d.RatioThreshold == 0 {
		d.RatioThreshold = def.Demucs.RatioThreshold
	}
	if d.OnBreak == "" {
		d.OnBreak = def.Demucs.OnBreak
	}
	if !validBreakActions[d.OnBreak] {
		return fmt.Errorf("settings: unknown on_break action %q", d.OnBreak)
	}
	if d.MaxEscalations < 0 {
		return fmt.Errorf("settings: max_escalations must be non-negative")
	}

	// The breaker only operates when separation is in play. With Demucs
	// fully disabled there is no strategy left to reconfigure.
	if d.Mode == model.DemucsNever || !d.Enabled {
		d.BreakerEnabled = false
	}
	return nil
}
