// SPDX-License-Identifier: MIT

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/config"
	"github.com/scribedev/scribed/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8580", cfg.Listen)
	assert.Equal(t, 15*time.Second, cfg.SSEHeartbeat)
	assert.Equal(t, 256, cfg.SSESubscriberBuffer)
	assert.True(t, cfg.AutoResumeOnStartup)
	assert.Equal(t, "noop", cfg.Telemetry.ExporterType)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8580", cfg.Listen)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
auto_resume_on_startup: false
phase_weights:
  transcribe: 60
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.False(t, cfg.AutoResumeOnStartup)

	weights := cfg.EffectiveWeights()
	assert.Equal(t, 60.0, weights[model.PhaseTranscribe])
	// Untouched phases keep their default weight.
	assert.Equal(t, model.DefaultPhaseWeights()[model.PhaseExtract], weights[model.PhaseExtract])
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, `listen: ":9000"`)
	t.Setenv("SCRIBED_LISTEN", ":7000")
	t.Setenv("SCRIBED_SSE_HEARTBEAT_SECONDS", "30s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.SSEHeartbeat)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, "listen: [:::")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadWeights(t *testing.T) {
	_, err := config.Load(writeConfig(t, "phase_weights:\n  warp_drive: 10\n"))
	require.Error(t, err, "unknown phase name")

	_, err = config.Load(writeConfig(t, "phase_weights:\n  extract: -1\n"))
	require.Error(t, err, "negative weight")
}

func TestParseSettingsDefaults(t *testing.T) {
	set, err := config.ParseSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), set)
}

func TestParseSettingsPartialDocument(t *testing.T) {
	set, err := config.ParseSettings([]byte(`{"model":"small","demucs":{"mode":"always"}}`))
	require.NoError(t, err)
	assert.Equal(t, "small", set.Model)
	assert.Equal(t, model.DemucsAlways, set.Demucs.Mode)
	// Unset fields keep their defaults.
	def := model.DefaultSettings()
	assert.Equal(t, def.ComputeType, set.ComputeType)
	assert.Equal(t, def.Demucs.RetryLogprob, set.Demucs.RetryLogprob)
}

func TestParseSettingsRejectsUnknownEnums(t *testing.T) {
	cases := []string{
		`{"model":"gigantic"}`,
		`{"compute_type":"float8"}`,
		`{"device":"tpu"}`,
		`{"batch_size":64}`,
		`{"demucs":{"mode":"sometimes"}}`,
		`{"demucs":{"on_break":"explode"}}`,
	}
	for _, raw := range cases {
		_, err := config.ParseSettings([]byte(raw))
		assert.Error(t, err, "input %s", raw)
	}
}

func TestParseSettingsDisablesBreakerWithoutSeparation(t *testing.T) {
	set, err := config.ParseSettings([]byte(`{"demucs":{"mode":"never","breaker_enabled":true}}`))
	require.NoError(t, err)
	assert.False(t, set.Demucs.BreakerEnabled)
}

func TestParseSettingsThresholdOrdering(t *testing.T) {
	_, err := config.ParseSettings([]byte(`{"demucs":{"light_threshold":0.6,"heavy_threshold":0.3}}`))
	require.Error(t, err)
}
