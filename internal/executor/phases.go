// SPDX-License-Identifier: MIT

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/scribedev/scribed/internal/engine"
	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/media"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/srt"
	"github.com/scribedev/scribed/internal/store"
)

// workDirName holds per-segment cuts and detection windows inside the job dir.
const workDirName = "work"

// bgmWindowSec is the length of each background-music probe window.
const bgmWindowSec = 10.0

func (r *run) workDir() (string, error) {
	dir := r.e.store.JobPath(r.jobID, workDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// phaseExtract decodes the input into 16 kHz mono PCM and grabs a thumbnail.
// Re-entry is cheap: an existing audio.wav is reused as-is.
func (r *run) phaseExtract(ctx context.Context) error {
	if err := r.e.store.EnsureJobDir(r.jobID); err != nil {
		return err
	}
	audioPath := r.e.store.JobPath(r.jobID, store.AudioFile)
	if !r.e.store.Exists(r.jobID, store.AudioFile) {
		if err := r.e.conv.ExtractAudio(ctx, r.inputPath, audioPath); err != nil {
			return err
		}
	}

	dur, err := r.e.conv.Duration(ctx, audioPath)
	if err != nil {
		return err
	}
	r.duration = dur

	// Audio-only inputs have no frame to grab; that is not an error.
	thumbPath := r.e.store.JobPath(r.jobID, store.ThumbnailFile)
	if !r.e.store.Exists(r.jobID, store.ThumbnailFile) {
		if err := r.e.conv.ExtractThumbnail(ctx, r.inputPath, thumbPath); err != nil {
			log.WithComponentFromContext(ctx, "executor").Debug().
				Str("event", "thumbnail.skipped").Msg("no thumbnail extracted")
		}
	}

	r.publishProgress(true, 100, "audio extracted", 0, 0)
	return nil
}

// phaseBGMDetect estimates how much non-vocal energy the audio carries by
// separating three probe windows and comparing RMS before and after. Only
// auto mode measures; the other modes fix the level up front.
func (r *run) phaseBGMDetect(ctx context.Context) error {
	d := &r.cp.Demucs
	if !r.set.Demucs.Enabled || r.set.Demucs.Mode != model.DemucsAuto {
		switch {
		case r.set.Demucs.Enabled && r.set.Demucs.Mode == model.DemucsAlways:
			d.BGMLevel = model.BGMHeavy
		default:
			d.BGMLevel = model.BGMNone
		}
		r.publishStrategy()
		return r.saveCheckpoint()
	}
	if d.BGMLevel != "" && len(d.BGMRatios) > 0 {
		return nil // measured in a previous run
	}

	if r.duration == 0 {
		dur, err := r.e.conv.Duration(ctx, r.e.store.JobPath(r.jobID, store.AudioFile))
		if err != nil {
			return err
		}
		r.duration = dur
	}

	work, err := r.workDir()
	if err != nil {
		return err
	}
	audioPath := r.e.store.JobPath(r.jobID, store.AudioFile)

	ratios := make([]float64, 0, 3)
	for i, frac := range []float64{0.15, 0.50, 0.85} {
		if err := r.checkInterrupt(); err != nil {
			return err
		}
		start := r.duration*frac - bgmWindowSec/2
		if start < 0 {
			start = 0
		}
		win := filepath.Join(work, fmt.Sprintf("bgm_win_%d.wav", i))
		sep := filepath.Join(work, fmt.Sprintf("bgm_win_%d_vocals.wav", i))
		if err := r.e.conv.CutWindow(ctx, audioPath, win, start, bgmWindowSec); err != nil {
			return err
		}
		if err := r.e.eng.Separator.Separate(ctx, win, sep, r.set.Demucs.WeakModel); err != nil {
			return err
		}
		orig, err := media.RMS(win)
		if err != nil {
			return err
		}
		vocals, err := media.RMS(sep)
		if err != nil {
			return err
		}
		ratio := 0.0
		if orig > 0 {
			ratio = 1 - vocals/orig
			ratio = clampPct(ratio*100) / 100
		}
		ratios = append(ratios, ratio)
		r.publishProgress(true, float64(i+1)/3*100, "detecting background music", 0, 0)
	}

	peak := 0.0
	for _, ratio := range ratios {
		if ratio > peak {
			peak = ratio
		}
	}
	d.BGMRatios = ratios
	switch {
	case peak >= r.set.Demucs.HeavyThreshold:
		d.BGMLevel = model.BGMHeavy
	case peak >= r.set.Demucs.LightThreshold:
		d.BGMLevel = model.BGMLight
	default:
		d.BGMLevel = model.BGMNone
	}

	log.WithComponentFromContext(ctx, "executor").Info().
		Str("event", "bgm.detected").
		Str("level", string(d.BGMLevel)).
		Floats64("ratios", ratios).
		Msg("background music level estimated")
	r.publishStrategy()
	return r.saveCheckpoint()
}

func (r *run) publishStrategy() {
	r.e.hub.PublishJob(r.jobID, model.Event{
		Type: model.EventSeparationStrategy,
		Data: model.StrategyPayload{
			BGMLevel:      r.cp.Demucs.BGMLevel,
			BGMRatios:     r.cp.Demucs.BGMRatios,
			InitialModel:  r.set.Demucs.WeakModel,
			FallbackModel: r.set.Demucs.FallbackModel,
			GlobalDemucs:  r.globalSeparationWanted(),
		},
	})
}

func (r *run) globalSeparationWanted() bool {
	if !r.set.Demucs.Enabled {
		return false
	}
	switch r.set.Demucs.Mode {
	case model.DemucsAlways:
		return true
	case model.DemucsAuto:
		return r.cp.Demucs.BGMLevel == model.BGMHeavy
	}
	return false
}

// phaseDemucsGlobal separates the whole file once when the detected music
// level (or a forced mode) calls for it. Light music is handled per-segment
// during transcription retries instead.
func (r *run) phaseDemucsGlobal(ctx context.Context) error {
	d := &r.cp.Demucs
	if !r.globalSeparationWanted() {
		return nil
	}
	if d.GlobalSeparationDone && r.e.store.Exists(r.jobID, store.VocalsFile) {
		return nil
	}

	audioPath := r.e.store.JobPath(r.jobID, store.AudioFile)
	vocalsPath := r.e.store.JobPath(r.jobID, store.VocalsFile)
	modelName := r.breaker.State().CurrentModel
	if d.BGMLevel == model.BGMHeavy && modelName == r.set.Demucs.WeakModel {
		// Heavy music goes straight to the strong separation model; the
		// fallback tier stays reserved for breaker escalation.
		modelName = r.set.Demucs.StrongModel
		r.breaker.State().CurrentModel = modelName
	}
	if err := r.e.eng.Separator.Separate(ctx, audioPath, vocalsPath, modelName); err != nil {
		return err
	}
	d.GlobalSeparationDone = true
	d.VocalsPath = vocalsPath
	d.CurrentModel = modelName

	r.publishProgress(true, 100, "vocals separated", 0, 0)
	return r.saveCheckpoint()
}

// phaseSplit runs voice-activity detection over the working audio and fixes
// the segment plan for the rest of the run.
func (r *run) phaseSplit(ctx context.Context) error {
	if r.cp.TotalSegments > 0 && len(r.cp.Segments) == r.cp.TotalSegments {
		return nil // plan fixed in a previous run
	}
	segs, err := r.e.eng.VoiceDetector.DetectSegments(ctx, r.audioSource(), r.set.VAD)
	if err != nil {
		return err
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].StartSec < segs[j].StartSec })
	for i := range segs {
		segs[i].Index = i
	}
	r.cp.Segments = segs
	r.cp.TotalSegments = len(segs)
	r.cp.ProcessedIndices = nil
	r.cp.Unaligned = nil

	log.WithComponentFromContext(ctx, "executor").Info().
		Str("event", "split.done").
		Int("segments", len(segs)).
		Msg("speech segments detected")
	r.publishProgress(true, 100, "segments detected", 0, len(segs))
	return r.saveCheckpoint()
}

// phaseAlign force-aligns the full transcript for word-level timestamps.
// Alignment is atomic: a failure keeps the unaligned segments untouched.
func (r *run) phaseAlign(ctx context.Context) error {
	r.mergeTranscript()
	if !r.set.WordTimestamps || len(r.cp.Segments) == 0 {
		return r.saveCheckpoint()
	}

	req := engine.AlignRequest{
		AudioPath: r.audioSource(),
		Language:  r.cp.Language,
		Segments:  r.cp.Segments,
		Results:   r.cp.Unaligned,
	}
	aligned, err := r.e.eng.Aligner.Align(ctx, req, func(frac float64) {
		r.publishProgress(false, frac*100, "aligning words", len(r.cp.Segments), len(r.cp.Segments))
	})
	if err != nil {
		return err
	}
	r.cp.Segments = aligned
	if err := r.saveCheckpoint(); err != nil {
		return err
	}
	for _, seg := range aligned {
		r.e.hub.PublishJob(r.jobID, model.Event{
			Type: model.EventAligned,
			Data: model.SegmentPayload{
				Index: seg.Index,
				Start: seg.StartSec,
				End:   seg.EndSec,
				Text:  seg.Text,
			},
		})
	}
	return nil
}

// mergeTranscript copies per-segment ASR text onto the segment plan.
func (r *run) mergeTranscript() {
	byIndex := make(map[int]model.TranscriptionResult, len(r.cp.Unaligned))
	for _, res := range r.cp.Unaligned {
		byIndex[res.Index] = res
	}
	for i := range r.cp.Segments {
		if res, ok := byIndex[r.cp.Segments[i].Index]; ok {
			r.cp.Segments[i].Text = res.Text
			if len(res.Words) > 0 && len(r.cp.Segments[i].Words) == 0 {
				r.cp.Segments[i].Words = res.Words
			}
		}
	}
}

// phaseSRT renders the final subtitle file atomically, verifies it parses
// back, and discards per-segment scratch files.
func (r *run) phaseSRT(ctx context.Context) error {
	data := srt.Marshal(r.cp.Segments)
	outPath := r.e.store.JobPath(r.jobID, store.SubtitleFile)
	if err := store.WriteFileAtomic(outPath, data); err != nil {
		return fmt.Errorf("write subtitles: %w", err)
	}
	if _, err := srt.Parse(data); err != nil {
		return errkind.Errorf(errkind.KindUnknown, "generated SRT fails verification: %v", err)
	}

	if err := os.RemoveAll(r.e.store.JobPath(r.jobID, workDirName)); err != nil {
		log.WithComponentFromContext(ctx, "executor").Warn().Err(err).
			Str("event", "workdir.cleanup_failed").Msg("scratch files left behind")
	}
	r.publishProgress(true, 100, "subtitles written", r.cp.TotalSegments, r.cp.TotalSegments)
	return nil
}

// peakResolution picks the proxy waveform bucket count: ten buckets per
// second of audio, never fewer than the default resolution.
func peakResolution(durationSec float64) int {
	if n := int(10 * durationSec); n > media.DefaultPeakSamples {
		return n
	}
	return media.DefaultPeakSamples
}

// generateProxies builds the editor waveform after completion. Proxy errors
// are reported on the event channel but never change the job outcome.
func (r *run) generateProxies(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "executor")

	r.e.hub.PublishJob(r.jobID, model.Event{
		Type: model.EventProxyProgress,
		Data: map[string]any{"artifact": "peaks", "percent": 0},
	})
	audioPath := r.e.store.JobPath(r.jobID, store.AudioFile)
	if r.duration == 0 {
		if dur, derr := r.e.conv.Duration(ctx, audioPath); derr == nil {
			r.duration = dur
		}
	}
	peaks, err := media.Peaks(audioPath, peakResolution(r.duration))
	if err != nil {
		logger.Warn().Err(err).Str("event", "proxy.peaks_failed").Msg("waveform generation failed")
		r.e.hub.PublishJob(r.jobID, model.Event{
			Type: model.EventProxyComplete,
			Data: map[string]any{"artifact": "peaks", "ok": false, "error": err.Error()},
		})
		return
	}
	buf, err := json.Marshal(peaks)
	if err == nil {
		err = store.WriteFileAtomic(r.e.store.JobPath(r.jobID, store.PeaksFile), buf)
	}
	if err != nil {
		logger.Warn().Err(err).Str("event", "proxy.peaks_failed").Msg("waveform persistence failed")
		r.e.hub.PublishJob(r.jobID, model.Event{
			Type: model.EventProxyComplete,
			Data: map[string]any{"artifact": "peaks", "ok": false, "error": err.Error()},
		})
		return
	}
	r.e.hub.PublishJob(r.jobID, model.Event{
		Type: model.EventProxyComplete,
		Data: map[string]any{"artifact": "peaks", "ok": true, "samples": len(peaks)},
	})
}
