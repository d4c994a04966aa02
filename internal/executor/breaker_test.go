// SPDX-License-Identifier: MIT

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scribedev/scribed/internal/model"
)

func breakerSettings() model.DemucsSettings {
	s := model.DefaultSettings().Demucs
	s.OnBreak = model.BreakContinue
	return s
}

func TestBreakerProceedsOnCleanSegments(t *testing.T) {
	st := &model.BreakerState{}
	b := NewBreaker(breakerSettings(), st)

	for i := 0; i < 10; i++ {
		d := b.Observe(false)
		assert.Equal(t, DecisionProceed, d.Kind)
	}
	assert.Equal(t, 10, st.ProcessedSegments)
	assert.Zero(t, st.TotalRetries)
}

func TestBreakerEscalatesBeforeBreaking(t *testing.T) {
	cfg := breakerSettings()
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	// Three consecutive retries trip the breaker; the first reaction must be
	// a model escalation, not the break action.
	assert.Equal(t, DecisionProceed, b.Observe(true).Kind)
	assert.Equal(t, DecisionProceed, b.Observe(true).Kind)
	d := b.Observe(true)
	assert.Equal(t, DecisionEscalate, d.Kind)
	assert.Equal(t, cfg.FallbackModel, d.NewModel)
	assert.Equal(t, 1, st.EscalationCount)
	assert.Equal(t, []string{"htdemucs->htdemucs_ft"}, st.EscalationHistory)
	assert.Zero(t, st.ConsecutiveRetries, "escalation resets the consecutive counter")
}

func TestBreakerBreaksAfterEscalationExhausted(t *testing.T) {
	cfg := breakerSettings()
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	for i := 0; i < 3; i++ {
		b.Observe(true)
	}
	assert.Equal(t, 1, st.EscalationCount)

	// Retries keep coming after the escalation: once five segments are
	// processed the retry ratio trips again, and with no escalations left the
	// configured break action fires.
	assert.Equal(t, DecisionProceed, b.Observe(true).Kind) // 4/4 processed, ratio gate needs 5
	d := b.Observe(true)
	assert.Equal(t, DecisionBreak, d.Kind)
	assert.Equal(t, model.BreakContinue, d.Action)
	assert.True(t, st.Tripped)
}

func TestBreakerRatioTrip(t *testing.T) {
	cfg := breakerSettings()
	cfg.AutoEscalation = false
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	// Alternate retried and clean segments: consecutive never reaches 3 but
	// the retry ratio crosses 0.2 once five segments are processed.
	assert.Equal(t, DecisionProceed, b.Observe(true).Kind)  // 1/1, <5 processed
	assert.Equal(t, DecisionProceed, b.Observe(false).Kind) // 1/2
	assert.Equal(t, DecisionProceed, b.Observe(false).Kind) // 1/3
	assert.Equal(t, DecisionProceed, b.Observe(false).Kind) // 1/4
	d := b.Observe(true) // 2/5 = 0.4 >= 0.2
	assert.Equal(t, DecisionBreak, d.Kind)
}

func TestBreakerRatioFiresOnlyOnce(t *testing.T) {
	cfg := breakerSettings()
	cfg.AutoEscalation = false
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	for i := 0; i < 4; i++ {
		b.Observe(i == 0)
	}
	d := b.Observe(true)
	assert.Equal(t, DecisionBreak, d.Kind)

	// The ratio stays above the threshold, but a second ratio-based break
	// must not fire on every following segment.
	d = b.Observe(false)
	assert.Equal(t, DecisionProceed, d.Kind)

	// A fresh run of consecutive retries still re-fires.
	b.Observe(true)
	b.Observe(true)
	d = b.Observe(true)
	assert.Equal(t, DecisionBreak, d.Kind)
}

func TestBreakerFallbackSetsFlag(t *testing.T) {
	cfg := breakerSettings()
	cfg.AutoEscalation = false
	cfg.OnBreak = model.BreakFallback
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	for i := 0; i < 3; i++ {
		b.Observe(true)
	}
	assert.True(t, st.FallbackToOriginal)
}

func TestBreakerDisabled(t *testing.T) {
	cfg := breakerSettings()
	cfg.BreakerEnabled = false
	st := &model.BreakerState{}
	b := NewBreaker(cfg, st)

	for i := 0; i < 10; i++ {
		assert.Equal(t, DecisionProceed, b.Observe(true).Kind)
	}
	assert.Equal(t, 10, st.TotalRetries, "counters still accumulate for diagnostics")
}
