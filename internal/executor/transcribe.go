// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scribedev/scribed/internal/engine"
	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/srt"
)

// retryBufferSec widens a segment window on the quality-retry pass so the
// separator has context beyond the speech boundaries.
const retryBufferSec = 2.0

// phaseTranscribe runs ASR segment by segment. Each segment is cut from the
// working audio, transcribed, optionally retried through vocal separation
// when quality scores are poor, and checkpointed before the next one starts.
func (r *run) phaseTranscribe(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "executor")
	total := r.cp.TotalSegments
	if total == 0 {
		return nil
	}
	work, err := r.workDir()
	if err != nil {
		return err
	}

	for _, seg := range r.cp.Segments {
		if r.cp.Processed(seg.Index) {
			continue
		}
		if err := r.checkInterrupt(); err != nil {
			return err
		}

		res, retried, err := r.transcribeOne(ctx, work, seg)
		if err != nil {
			return err
		}

		decision := r.breaker.Observe(retried)
		switch decision.Kind {
		case DecisionEscalate:
			metrics.EscalationsTotal.Inc()
			r.e.hub.PublishJob(r.jobID, model.Event{
				Type: model.EventModelEscalated,
				Data: model.EscalationPayload{
					FromModel:       r.cp.Demucs.CurrentModel,
					ToModel:         decision.NewModel,
					EscalationCount: r.breaker.State().EscalationCount,
					SegmentIndex:    seg.Index,
				},
			})
			r.cp.Demucs.CurrentModel = decision.NewModel
			logger.Info().
				Str("event", "breaker.escalated").
				Str("model", decision.NewModel).
				Int("segment", seg.Index).
				Msg("separation model escalated")
			// Give the tripping segment one more chance with the new model.
			if better, err := r.retryWithSeparation(ctx, work, seg, res); err == nil {
				res = better
			} else if interrupted(err) {
				return err
			}

		case DecisionBreak:
			metrics.BreakerFiredTotal.WithLabelValues(string(decision.Action)).Inc()
			st := r.breaker.State()
			r.e.hub.PublishJob(r.jobID, model.Event{
				Type: model.EventBreakerHandled,
				Data: model.BreakerPayload{
					Action:             decision.Action,
					ConsecutiveRetries: st.ConsecutiveRetries,
					TotalRetries:       st.TotalRetries,
					ProcessedSegments:  st.ProcessedSegments,
					SegmentIndex:       seg.Index,
				},
			})
			logger.Warn().
				Str("event", "breaker.fired").
				Str("action", string(decision.Action)).
				Int("segment", seg.Index).
				Msg("transcription-quality circuit breaker fired")

			switch decision.Action {
			case model.BreakContinue:
				res.Text += srt.UncertainMarker
			case model.BreakFallback:
				// State().FallbackToOriginal is set; audioSource() now
				// returns the unseparated audio for remaining segments.
			case model.BreakFail:
				_ = r.recordResult(seg, res)
				return errkind.Errorf(errkind.KindCircuitBreakerOpen,
					"too many low-quality segments (retries=%d processed=%d)",
					st.TotalRetries, st.ProcessedSegments)
			case model.BreakPause:
				if err := r.recordResult(seg, res); err != nil {
					return err
				}
				return errkind.E(errkind.KindPaused, nil)
			}
		}

		if err := r.recordResult(seg, res); err != nil {
			return err
		}
		if retried {
			metrics.SegmentsTotal.WithLabelValues("retried").Inc()
		} else {
			metrics.SegmentsTotal.WithLabelValues("clean").Inc()
		}

		processed := len(r.cp.ProcessedIndices)
		r.e.hub.PublishJob(r.jobID, model.Event{
			Type: model.EventSegment,
			Data: model.SegmentPayload{
				Index: seg.Index,
				Start: seg.StartSec,
				End:   seg.EndSec,
				Text:  res.Text,
			},
		})
		r.publishProgress(processed == total, float64(processed)/float64(total)*100,
			fmt.Sprintf("transcribed %d/%d", processed, total), processed, total)
	}
	return nil
}

// recordResult stores one segment's transcript in the checkpoint durably.
func (r *run) recordResult(seg model.Segment, res model.TranscriptionResult) error {
	res.Index = seg.Index
	replaced := false
	for i := range r.cp.Unaligned {
		if r.cp.Unaligned[i].Index == seg.Index {
			r.cp.Unaligned[i] = res
			replaced = true
			break
		}
	}
	if !replaced {
		r.cp.Unaligned = append(r.cp.Unaligned, res)
	}
	r.cp.MarkProcessed(seg.Index)
	if res.Language != "" && r.cp.Language == "" {
		r.cp.Language = res.Language
	}
	return r.saveCheckpoint()
}

// transcribeOne runs the first ASR pass and, when the quality scores miss the
// thresholds, a separation-assisted retry keeping whichever pass scored the
// higher average log probability.
func (r *run) transcribeOne(ctx context.Context, work string, seg model.Segment) (model.TranscriptionResult, bool, error) {
	cut := filepath.Join(work, fmt.Sprintf("seg_%04d.wav", seg.Index))
	if err := r.e.conv.CutWindow(ctx, r.audioSource(), cut, seg.StartSec, seg.EndSec-seg.StartSec); err != nil {
		return model.TranscriptionResult{}, false, err
	}
	defer os.Remove(cut)

	res, err := r.transcribeFile(ctx, cut)
	if err != nil {
		return model.TranscriptionResult{}, false, err
	}
	if !r.lowQuality(res) {
		return res, false, nil
	}

	better, err := r.retryWithSeparation(ctx, work, seg, res)
	if err != nil {
		if interrupted(err) {
			return model.TranscriptionResult{}, false, err
		}
		// A failed retry keeps the first-pass result; the breaker still
		// records the quality miss.
		log.WithComponentFromContext(ctx, "executor").Warn().Err(err).
			Str("event", "segment.retry_failed").
			Int("segment", seg.Index).
			Msg("separation retry failed, keeping first pass")
		return res, true, nil
	}
	return better, true, nil
}

// retryWithSeparation cuts a widened window, separates its vocals with the
// breaker's current model, re-transcribes, and returns whichever result
// scored better.
func (r *run) retryWithSeparation(ctx context.Context, work string, seg model.Segment, first model.TranscriptionResult) (model.TranscriptionResult, error) {
	if !r.set.Demucs.Enabled || r.set.Demucs.Mode == model.DemucsNever {
		return first, nil
	}
	start := seg.StartSec - retryBufferSec
	if start < 0 {
		start = 0
	}
	dur := seg.EndSec - start + retryBufferSec

	wide := filepath.Join(work, fmt.Sprintf("seg_%04d_wide.wav", seg.Index))
	sep := filepath.Join(work, fmt.Sprintf("seg_%04d_vocals.wav", seg.Index))
	defer os.Remove(wide)
	defer os.Remove(sep)

	if err := r.e.conv.CutWindow(ctx, r.audioSource(), wide, start, dur); err != nil {
		return first, err
	}
	if err := r.e.eng.Separator.Separate(ctx, wide, sep, r.breaker.State().CurrentModel); err != nil {
		return first, err
	}
	r.cp.Demucs.RetryTriggered = true

	retryRes, err := r.transcribeFile(ctx, sep)
	if err != nil {
		return first, err
	}
	if retryRes.AvgLogprob > first.AvgLogprob {
		return retryRes, nil
	}
	return first, nil
}

// transcribeFile invokes ASR on one file, downgrading the compute type to
// int8 once if the GPU runs out of memory and downgrades are allowed.
func (r *run) transcribeFile(ctx context.Context, path string) (model.TranscriptionResult, error) {
	req := engine.TranscribeRequest{
		AudioPath:      path,
		Model:          r.set.Model,
		ComputeType:    r.set.ComputeType,
		Device:         r.set.Device,
		BatchSize:      r.set.BatchSize,
		WordTimestamps: r.set.WordTimestamps,
		Language:       r.cp.Language,
	}
	res, err := r.e.eng.Transcriber.Transcribe(ctx, req)
	if err == nil {
		return res, nil
	}
	if errkind.KindOf(err) != errkind.KindGPUOutOfMemory || !r.set.AllowDowngrade || r.set.ComputeType == "int8" {
		return model.TranscriptionResult{}, err
	}

	log.WithComponentFromContext(ctx, "executor").Warn().
		Str("event", "transcribe.downgraded").
		Str("from", r.set.ComputeType).
		Msg("GPU out of memory, downgrading compute type to int8")
	r.set.ComputeType = "int8" // sticks for the rest of the run
	req.ComputeType = "int8"
	return r.e.eng.Transcriber.Transcribe(ctx, req)
}

// lowQuality applies the retry thresholds from the frozen settings.
func (r *run) lowQuality(res model.TranscriptionResult) bool {
	return res.AvgLogprob < r.set.Demucs.RetryLogprob ||
		res.NoSpeechProb > r.set.Demucs.RetryNoSpeech
}

// interrupted reports whether the error must abort the run immediately.
func interrupted(err error) bool {
	switch errkind.KindOf(err) {
	case errkind.KindCanceled, errkind.KindPaused:
		return true
	}
	return false
}
