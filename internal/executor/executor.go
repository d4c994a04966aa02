// SPDX-License-Identifier: MIT

// Package executor drives one job through the phased transcription pipeline
// with checkpoint-based resume and a circuit breaker that can reconfigure
// the separation strategy mid-run.
package executor

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/scribedev/scribed/internal/engine"
	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/registry"
	"github.com/scribedev/scribed/internal/store"
)

// progressInterval is the minimum spacing between progress events per job.
const progressInterval = 200 * time.Millisecond

// MediaConverter is the encoder surface the executor needs; media.Converter
// implements it with ffmpeg/ffprobe subprocesses.
type MediaConverter interface {
	ExtractAudio(ctx context.Context, src, dst string) error
	ExtractThumbnail(ctx context.Context, src, dst string) error
	CutWindow(ctx context.Context, src, dst string, startSec, durSec float64) error
	Duration(ctx context.Context, src string) (float64, error)
}

// Executor runs jobs. It holds no per-job state; each Run builds a private
// run context, so a single Executor serves the whole process.
type Executor struct {
	store   *store.Store
	reg     *registry.Registry
	hub     *hub.Hub
	eng     engine.Set
	conv    MediaConverter
	weights map[model.Phase]float64
	tracer  trace.Tracer
}

// New wires an executor. weights may be nil to use the default table.
func New(st *store.Store, reg *registry.Registry, h *hub.Hub, eng engine.Set, conv MediaConverter, weights map[model.Phase]float64) *Executor {
	if weights == nil {
		weights = model.DefaultPhaseWeights()
	}
	return &Executor{
		store:   st,
		reg:     reg,
		hub:     h,
		eng:     eng,
		conv:    conv,
		weights: weights,
		tracer:  otel.Tracer("scribed/executor"),
	}
}

// run is the private state of one pipeline execution.
type run struct {
	e   *Executor
	ctl *Control

	jobID     string
	set       model.Settings
	inputPath string
	cp        *model.Checkpoint
	breaker   *Breaker

	duration float64 // of the extracted audio, seconds
	limiter  *rate.Limiter
}

// Run executes the pipeline for jobID until it finishes, fails, or observes
// a pause/cancel request. The returned error is classified via errkind;
// nil means the job finished and the SRT is on disk.
func (e *Executor) Run(ctx context.Context, jobID string, ctl *Control) error {
	ctx = log.ContextWithJobID(ctx, jobID)
	logger := log.WithComponentFromContext(ctx, "executor")

	job := e.reg.Get(jobID)
	if job == nil {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if job.Settings == nil {
		return fmt.Errorf("job %s has no frozen settings", jobID)
	}

	inputPath, err := e.store.InputPath(jobID)
	if err != nil {
		return err
	}
	if inputPath == "" {
		return errkind.Errorf(errkind.KindInputMissing, "job %s has no registered input", jobID)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return errkind.Errorf(errkind.KindInputMissing, "input file %s: %v", inputPath, err)
	}

	cp, err := e.store.LoadCheckpoint(jobID)
	if err != nil {
		// An unreadable checkpoint is logged and discarded; the run starts
		// from scratch rather than failing the job.
		logger.Warn().Err(err).Str("event", "checkpoint.corrupt").Msg("discarding unreadable checkpoint")
		cp = nil
	}
	if cp == nil {
		cp = &model.Checkpoint{Phase: model.PhasePending}
	}
	cp.Demucs.Mode = job.Settings.Demucs.Mode

	r := &run{
		e:         e,
		ctl:       ctl,
		jobID:     jobID,
		set:       *job.Settings,
		inputPath: inputPath,
		cp:        cp,
		breaker:   NewBreaker(job.Settings.Demucs, &cp.Breaker),
		limiter:   rate.NewLimiter(rate.Every(progressInterval), 1),
	}

	err = r.execute(ctx)
	switch errkind.KindOf(err) {
	case "":
		r.signal(model.SignalJobComplete, "")
	case errkind.KindPaused:
		r.signal(model.SignalJobPaused, "")
	case errkind.KindCanceled:
		if ctl.CancelRequested() {
			r.signal(model.SignalJobCanceled, "")
		} else {
			// Context cancellation without a user cancel means shutdown; the
			// supervisor keeps the job resumable, so don't report a cancel.
			r.signal(model.SignalJobPaused, "shutting down")
		}
	default:
		r.signal(model.SignalJobFailed, err.Error())
	}
	return err
}

// execute walks the phase sequence, honoring the checkpointed resume point.
func (r *run) execute(ctx context.Context) error {
	type phaseStep struct {
		phase model.Phase
		fn    func(context.Context) error
	}
	steps := []phaseStep{
		{model.PhaseExtract, r.phaseExtract},
		{model.PhaseBGMDetect, r.phaseBGMDetect},
		{model.PhaseDemucsGlobal, r.phaseDemucsGlobal},
		{model.PhaseSplit, r.phaseSplit},
		{model.PhaseTranscribe, r.phaseTranscribe},
		{model.PhaseAlign, r.phaseAlign},
		{model.PhaseSRT, r.phaseSRT},
	}

	resumeIdx := model.PhaseIndex(r.cp.Phase)
	for _, step := range steps {
		if model.PhaseIndex(step.phase) < resumeIdx {
			continue // completed in a previous run
		}
		if err := r.checkInterrupt(); err != nil {
			return err
		}
		if err := r.enterPhase(step.phase); err != nil {
			return err
		}

		phaseCtx, span := r.e.tracer.Start(ctx, "phase."+string(step.phase),
			trace.WithAttributes(attribute.String("job.id", r.jobID)))
		started := time.Now()
		err := step.fn(phaseCtx)
		span.End()
		if err != nil {
			return err
		}
		metrics.PhaseDuration.WithLabelValues(string(step.phase)).Observe(time.Since(started).Seconds())
	}

	if err := r.enterPhase(model.PhaseComplete); err != nil {
		return err
	}
	r.publishProgress(true, 100, "complete", r.cp.TotalSegments, r.cp.TotalSegments)

	// Editor artifacts are generated after completion; failures here never
	// fail the job.
	r.generateProxies(ctx)
	return nil
}

// enterPhase records the phase boundary durably before any work happens.
func (r *run) enterPhase(p model.Phase) error {
	r.cp.Phase = p
	if err := r.saveCheckpoint(); err != nil {
		return err
	}
	r.e.reg.SetProgress(r.jobID, p, 0, r.basePercent(p), phaseMessage(p), r.cp.Language)
	r.publishProgress(true, 0, phaseMessage(p), len(r.cp.ProcessedIndices), r.cp.TotalSegments)
	return nil
}

// checkInterrupt is the cooperative suspension point. The checkpoint is
// written before reporting, so a pause or cancel never loses work.
func (r *run) checkInterrupt() error {
	if r.ctl.CancelRequested() {
		_ = r.saveCheckpoint()
		return errkind.E(errkind.KindCanceled, nil)
	}
	if r.ctl.PauseRequested() {
		if err := r.saveCheckpoint(); err != nil {
			return err
		}
		return errkind.E(errkind.KindPaused, nil)
	}
	return nil
}

func (r *run) saveCheckpoint() error {
	if err := r.e.store.SaveCheckpoint(r.jobID, r.cp); err != nil {
		return err
	}
	metrics.CheckpointWritesTotal.Inc()
	return nil
}

// basePercent is the weight sum of all phases preceding p. Conditional
// phases that were skipped count as completed once the pipeline is past them.
func (r *run) basePercent(p model.Phase) float64 {
	idx := model.PhaseIndex(p)
	var sum float64
	for phase, w := range r.weightsView() {
		if model.PhaseIndex(phase) < idx {
			sum += w
		}
	}
	return clampPct(sum)
}

func (r *run) weightsView() map[model.Phase]float64 { return r.e.weights }

// publishProgress maps phase progress onto the global percentage and emits
// a per-job progress event, throttled unless force is set.
func (r *run) publishProgress(force bool, phasePct float64, msg string, processed, total int) {
	if !force && !r.limiter.Allow() {
		return
	}
	phasePct = clampPct(phasePct)
	percent := r.basePercent(r.cp.Phase) + r.weightsView()[r.cp.Phase]*phasePct/100
	percent = clampPct(percent)
	if r.cp.Phase == model.PhaseComplete {
		percent = 100
	}

	r.e.reg.SetProgress(r.jobID, r.cp.Phase, phasePct, percent, msg, r.cp.Language)
	r.e.hub.PublishJob(r.jobID, model.Event{
		Type: model.EventProgress,
		Data: model.ProgressPayload{
			Phase:        r.cp.Phase,
			PhasePercent: phasePct,
			Percent:      percent,
			Message:      msg,
			Processed:    processed,
			Total:        total,
			Language:     r.cp.Language,
		},
	})
}

func (r *run) signal(name, reason string) {
	r.e.hub.PublishJob(r.jobID, model.Event{
		Type: model.EventSignal,
		Data: model.SignalPayload{Signal: name, Reason: reason},
	})
}

// audioSource returns the file subsequent phases should read: the separated
// vocals when global separation ran and the breaker has not fallen back.
func (r *run) audioSource() string {
	if r.cp.Demucs.GlobalSeparationDone && !r.cp.Breaker.FallbackToOriginal && r.cp.Demucs.VocalsPath != "" {
		return r.cp.Demucs.VocalsPath
	}
	return r.e.store.JobPath(r.jobID, store.AudioFile)
}

func phaseMessage(p model.Phase) string {
	switch p {
	case model.PhaseExtract:
		return "extracting audio"
	case model.PhaseBGMDetect:
		return "detecting background music"
	case model.PhaseDemucsGlobal:
		return "separating vocals"
	case model.PhaseSplit:
		return "detecting speech segments"
	case model.PhaseTranscribe:
		return "transcribing"
	case model.PhaseAlign:
		return "aligning words"
	case model.PhaseSRT:
		return "writing subtitles"
	case model.PhaseComplete:
		return "complete"
	}
	return string(p)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
