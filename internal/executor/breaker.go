// SPDX-License-Identifier: MIT

package executor

import (
	"fmt"

	"github.com/scribedev/scribed/internal/model"
)

// DecisionKind is the explicit result variant of the per-segment breaker
// evaluation. The executor dispatches on it; no control-flow exceptions.
type DecisionKind int

const (
	DecisionProceed DecisionKind = iota
	DecisionEscalate
	DecisionBreak
)

// Decision is the breaker's verdict after one segment.
type Decision struct {
	Kind     DecisionKind
	NewModel string            // set for DecisionEscalate
	Action   model.BreakAction // set for DecisionBreak
}

// Breaker tracks transcription-quality retries and reconfigures the
// separation strategy when too many occur. State is persisted inside the
// job checkpoint so it survives pause and crash.
type Breaker struct {
	cfg model.DemucsSettings
	st  *model.BreakerState
}

// NewBreaker wraps the persisted state from the checkpoint.
func NewBreaker(cfg model.DemucsSettings, st *model.BreakerState) *Breaker {
	if st.CurrentModel == "" {
		st.CurrentModel = cfg.WeakModel
	}
	return &Breaker{cfg: cfg, st: st}
}

// State exposes the underlying persisted state.
func (b *Breaker) State() *model.BreakerState { return b.st }

// Observe records the outcome of one segment and returns the decision.
// retried means the segment needed a quality retry (low avg_logprob or high
// no_speech_prob on the first pass).
func (b *Breaker) Observe(retried bool) Decision {
	st := b.st
	st.ProcessedSegments++
	if retried {
		st.ConsecutiveRetries++
		st.TotalRetries++
	} else {
		st.ConsecutiveRetries = 0
	}

	if !b.cfg.BreakerEnabled || !b.tripped() {
		return Decision{Kind: DecisionProceed}
	}

	// Escalation takes priority over the break action while upgrades remain.
	if b.cfg.AutoEscalation && st.EscalationCount < b.cfg.MaxEscalations && st.CurrentModel != b.cfg.FallbackModel {
		from := st.CurrentModel
		st.CurrentModel = b.cfg.FallbackModel
		st.EscalationCount++
		st.ConsecutiveRetries = 0
		st.EscalationHistory = append(st.EscalationHistory, fmt.Sprintf("%s->%s", from, st.CurrentModel))
		return Decision{Kind: DecisionEscalate, NewModel: st.CurrentModel}
	}

	// One break per run for ratio-based fires; the consecutive counter is
	// reset so a continue action does not re-fire on every segment.
	if st.Tripped && st.ConsecutiveRetries < b.cfg.ConsecutiveThreshold {
		return Decision{Kind: DecisionProceed}
	}
	st.Tripped = true
	st.ConsecutiveRetries = 0
	if b.cfg.OnBreak == model.BreakFallback {
		st.FallbackToOriginal = true
	}
	return Decision{Kind: DecisionBreak, Action: b.cfg.OnBreak}
}

// tripped evaluates the break condition on current counters.
func (b *Breaker) tripped() bool {
	st := b.st
	if st.ConsecutiveRetries >= b.cfg.ConsecutiveThreshold {
		return true
	}
	return st.ProcessedSegments >= 5 &&
		float64(st.TotalRetries)/float64(st.ProcessedSegments) >= b.cfg.RatioThreshold
}
