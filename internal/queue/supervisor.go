// SPDX-License-Identifier: MIT

// Package queue serializes pipeline work: a FIFO of admitted jobs and a
// single runner goroutine that owns the GPU. All lifecycle transitions
// requested over the API funnel through the Supervisor so the single-runner
// invariant can never be violated.
package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/scribedev/scribed/internal/config"
	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/executor"
	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/registry"
	"github.com/scribedev/scribed/internal/store"
)

// Recorder archives terminal runs; see the history package.
type Recorder interface {
	Record(ctx context.Context, job *model.Job) error
}

// Supervisor owns the job queue and the single runner.
type Supervisor struct {
	mu          sync.Mutex
	queue       []string
	runningID   string
	interrupted string // crash-interrupted job awaiting a manual decision
	preempted   string // job paused by a force-prioritize, re-enqueued on return
	controls    map[string]*executor.Control

	wake chan struct{}

	reg        *registry.Registry
	exec       *executor.Executor
	hub        *hub.Hub
	store      *store.Store
	autoResume bool
	recorder   Recorder
}

// New builds a supervisor. Call Recover before Run to restore persisted jobs.
func New(reg *registry.Registry, exec *executor.Executor, h *hub.Hub, st *store.Store, autoResume bool) *Supervisor {
	return &Supervisor{
		controls:   make(map[string]*executor.Control),
		wake:       make(chan struct{}, 1),
		reg:        reg,
		exec:       exec,
		hub:        h,
		store:      st,
		autoResume: autoResume,
	}
}

// SetRecorder attaches the terminal-run archive. Optional; a nil recorder
// disables archiving.
func (s *Supervisor) SetRecorder(r Recorder) { s.recorder = r }

// Recover reclassifies jobs found mid-flight after a crash. Retryable ones
// go to the head of the queue when auto-resume is on; the rest stay
// interrupted until the operator resumes or cancels them.
func (s *Supervisor) Recover() error {
	ids, err := s.reg.LoadAll()
	if err != nil {
		return err
	}
	logger := log.WithComponent("queue")
	for _, id := range ids {
		job := s.reg.Get(id)
		if job == nil {
			continue
		}
		retryable := job.ErrorKind == "" || errkind.AutoRetryable(errkind.Kind(job.ErrorKind))
		if s.autoResume && retryable {
			if _, err := s.reg.Update(id, func(j *model.Job) {
				j.Status = model.StatusQueued
				j.Message = "auto-resumed after restart"
			}); err != nil {
				return err
			}
			s.mu.Lock()
			s.queue = append([]string{id}, s.queue...)
			s.mu.Unlock()
			logger.Info().Str("event", "queue.auto_resumed").Str("job_id", id).Msg("interrupted job re-enqueued")
			continue
		}
		s.mu.Lock()
		s.interrupted = id
		s.mu.Unlock()
		logger.Warn().Str("event", "queue.interrupted_held").Str("job_id", id).Msg("interrupted job held for manual resume")
	}
	s.publishQueue()
	return nil
}

// Run is the single runner loop. It exits when ctx is canceled; a running
// job receives a pause request first so its checkpoint lands on disk.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("queue")
	for {
		id := s.popNext()
		if id == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			// Too late to run it; push back so state stays queued on disk.
			s.mu.Lock()
			s.queue = append([]string{id}, s.queue...)
			s.mu.Unlock()
			return ctx.Err()
		default:
		}

		logger.Info().Str("event", "queue.dispatch").Str("job_id", id).Msg("job picked up by runner")
		s.runJob(ctx, id)
	}
}

// Shutdown asks the running job, if any, to pause.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ctl := s.controls[s.runningID]
	s.mu.Unlock()
	if ctl != nil {
		ctl.RequestPause()
	}
}

func (s *Supervisor) popNext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runningID != "" || len(s.queue) == 0 {
		return ""
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	s.runningID = id
	s.controls[id] = executor.NewControl()
	metrics.QueueDepth.Set(float64(len(s.queue)))
	metrics.RunnerBusy.Set(1)
	return id
}

func (s *Supervisor) runJob(ctx context.Context, id string) {
	s.mu.Lock()
	ctl := s.controls[id]
	s.mu.Unlock()

	if _, err := s.reg.Update(id, func(j *model.Job) {
		j.Status = model.StatusProcessing
		j.Message = "processing"
		j.LastError = ""
		j.ErrorKind = ""
	}); err != nil {
		log.WithComponent("queue").Error().Err(err).Str("job_id", id).Msg("mark processing")
	}
	s.publishQueue()

	err := s.exec.Run(ctx, id, ctl)
	s.finishJob(id, ctl, err)
}

// finishJob maps the executor outcome onto the job status and releases the
// runner slot.
func (s *Supervisor) finishJob(id string, ctl *executor.Control, err error) {
	logger := log.WithComponent("queue")
	kind := errkind.KindOf(err)
	var final *model.Job

	switch kind {
	case "":
		snap, uerr := s.reg.Update(id, func(j *model.Job) {
			j.Status = model.StatusFinished
			j.Percent = 100
			j.Message = "finished"
		})
		if uerr != nil {
			logger.Error().Err(uerr).Str("job_id", id).Msg("mark finished")
		}
		final = snap
		if derr := s.store.DeleteCheckpoint(id); derr != nil {
			logger.Warn().Err(derr).Str("job_id", id).Msg("checkpoint cleanup")
		}

	case errkind.KindPaused:
		s.mu.Lock()
		requeue := s.preempted == id
		if requeue {
			s.preempted = ""
		}
		s.mu.Unlock()
		if requeue {
			if _, uerr := s.reg.Update(id, func(j *model.Job) {
				j.Status = model.StatusQueued
				j.Message = "preempted"
			}); uerr != nil {
				logger.Error().Err(uerr).Str("job_id", id).Msg("requeue preempted")
			}
			s.mu.Lock()
			s.queue = append(s.queue, id)
			s.mu.Unlock()
		} else if _, uerr := s.reg.Update(id, func(j *model.Job) {
			j.Status = model.StatusPaused
			j.Message = "paused"
		}); uerr != nil {
			logger.Error().Err(uerr).Str("job_id", id).Msg("mark paused")
		}

	case errkind.KindCanceled:
		if !ctl.CancelRequested() {
			// The runner context died under the job (shutdown), not a user
			// cancel. The checkpoint is on disk; keep the job resumable.
			if _, uerr := s.reg.Update(id, func(j *model.Job) {
				j.Status = model.StatusInterrupted
				j.Message = "interrupted by shutdown"
			}); uerr != nil {
				logger.Error().Err(uerr).Str("job_id", id).Msg("mark interrupted")
			}
			break
		}
		snap, uerr := s.reg.Update(id, func(j *model.Job) {
			j.Status = model.StatusCanceled
			j.Message = "canceled"
		})
		if uerr != nil {
			logger.Error().Err(uerr).Str("job_id", id).Msg("mark canceled")
		}
		final = snap
		if ctl.DeleteDataRequested() {
			if rerr := s.reg.Remove(id, true); rerr != nil {
				logger.Error().Err(rerr).Str("job_id", id).Msg("wipe canceled job")
			}
		}

	default:
		logger.Error().Err(err).
			Str("event", "job.failed").
			Str("job_id", id).
			Str("kind", string(kind)).
			Msg("job failed")
		snap, uerr := s.reg.Update(id, func(j *model.Job) {
			j.Status = model.StatusFailed
			j.Message = "failed"
			j.LastError = err.Error()
			j.ErrorKind = string(kind)
		})
		if uerr != nil {
			logger.Error().Err(uerr).Str("job_id", id).Msg("mark failed")
		}
		final = snap
	}

	if s.recorder != nil && final != nil && final.Status.IsTerminal() {
		if herr := s.recorder.Record(context.Background(), final); herr != nil {
			logger.Warn().Err(herr).Str("job_id", id).Msg("archive terminal run")
		}
	}

	s.mu.Lock()
	s.runningID = ""
	delete(s.controls, id)
	metrics.RunnerBusy.Set(0)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()
	s.publishQueue()
	s.kick()
}

// Start freezes the settings onto the job and enqueues it. Only freshly
// created (or previously canceled/failed) jobs can be started; paused and
// interrupted jobs go through Resume.
func (s *Supervisor) Start(id string, rawSettings []byte) error {
	job := s.reg.Get(id)
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	switch job.Status {
	case model.StatusCreated, model.StatusFailed, model.StatusCanceled:
	default:
		return fmt.Errorf("job %s cannot start from status %s", id, job.Status)
	}

	settings, err := config.ParseSettings(rawSettings)
	if err != nil {
		return err
	}
	// A restart from a terminal state begins from scratch.
	if job.Status != model.StatusCreated {
		if err := s.store.DeleteCheckpoint(id); err != nil {
			return err
		}
	}

	if _, err := s.reg.Update(id, func(j *model.Job) {
		j.Settings = &settings
		j.Status = model.StatusQueued
		j.Phase = model.PhasePending
		j.Percent = 0
		j.PhasePercent = 0
		j.Message = "queued"
		j.LastError = ""
		j.ErrorKind = ""
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.queue = append(s.queue, id)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()
	s.publishQueue()
	s.kick()
	return nil
}

// Pause suspends a job. Running jobs are asked to checkpoint and stop;
// queued jobs leave the queue immediately. Pausing a paused job is a no-op.
func (s *Supervisor) Pause(id string) error {
	job := s.reg.Get(id)
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	// Queue membership and the runner slot are checked under the lock, not
	// the registry status, so a concurrent dispatch cannot move the job
	// between the decision and the branch taken.
	s.mu.Lock()
	if idx := slices.Index(s.queue, id); idx >= 0 {
		s.queue = slices.Delete(s.queue, idx, idx+1)
		metrics.QueueDepth.Set(float64(len(s.queue)))
		s.mu.Unlock()
		if _, err := s.reg.Update(id, func(j *model.Job) {
			j.Status = model.StatusPaused
			j.Message = "paused"
		}); err != nil {
			return err
		}
		s.publishQueue()
		return nil
	}
	var ctl *executor.Control
	if s.runningID == id {
		ctl = s.controls[id]
	}
	s.mu.Unlock()

	if ctl != nil {
		ctl.RequestPause()
		return nil
	}
	job = s.reg.Get(id)
	switch job.Status {
	case model.StatusPaused:
		return nil
	case model.StatusProcessing:
		// The runner is between finishing the job and releasing the slot.
		return fmt.Errorf("job %s is completing, retry shortly", id)
	}
	return fmt.Errorf("job %s cannot pause from status %s", id, job.Status)
}

// Resume re-enqueues a paused or interrupted job at the tail. The frozen
// settings and checkpoint are reused; transcription continues where the
// pause left off.
func (s *Supervisor) Resume(id string) error {
	job := s.reg.Get(id)
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	switch job.Status {
	case model.StatusPaused, model.StatusInterrupted:
	case model.StatusQueued, model.StatusProcessing:
		return nil // already on its way
	default:
		return fmt.Errorf("job %s cannot resume from status %s", id, job.Status)
	}
	if job.Settings == nil {
		return fmt.Errorf("job %s has no frozen settings to resume with", id)
	}

	if _, err := s.reg.Update(id, func(j *model.Job) {
		j.Status = model.StatusQueued
		j.Message = "queued"
	}); err != nil {
		return err
	}

	s.mu.Lock()
	if s.interrupted == id {
		s.interrupted = ""
	}
	s.queue = append(s.queue, id)
	metrics.QueueDepth.Set(float64(len(s.queue)))
	s.mu.Unlock()

	s.hub.PublishJob(id, model.Event{
		Type: model.EventSignal,
		Data: model.SignalPayload{Signal: model.SignalJobResumed},
	})
	s.publishQueue()
	s.kick()
	return nil
}

// Cancel aborts a job in any non-terminal state. Canceling a terminal job
// is a no-op so clients may retry safely. deleteData additionally wipes the
// working directory once the runner acknowledges.
func (s *Supervisor) Cancel(id string, deleteData bool) error {
	job := s.reg.Get(id)
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	if job.Status.IsTerminal() {
		if deleteData && job.Status == model.StatusCanceled {
			return s.reg.Remove(id, true)
		}
		return nil
	}

	// Same locking discipline as Pause: the runner slot and queue membership
	// decide the branch, not the registry snapshot.
	s.mu.Lock()
	if s.runningID == id {
		ctl := s.controls[id]
		s.mu.Unlock()
		ctl.RequestCancel(deleteData)
		return nil
	}
	if idx := slices.Index(s.queue, id); idx >= 0 {
		s.queue = slices.Delete(s.queue, idx, idx+1)
		metrics.QueueDepth.Set(float64(len(s.queue)))
	} else if s.reg.Get(id).Status == model.StatusProcessing {
		s.mu.Unlock()
		return fmt.Errorf("job %s is completing, retry shortly", id)
	}
	if s.interrupted == id {
		s.interrupted = ""
	}
	s.mu.Unlock()
	snap, err := s.reg.Update(id, func(j *model.Job) {
		j.Status = model.StatusCanceled
		j.Message = "canceled"
	})
	if err != nil {
		return err
	}
	if s.recorder != nil {
		if herr := s.recorder.Record(context.Background(), snap); herr != nil {
			log.WithComponent("queue").Warn().Err(herr).Str("job_id", id).Msg("archive canceled run")
		}
	}
	s.hub.PublishJob(id, model.Event{
		Type: model.EventSignal,
		Data: model.SignalPayload{Signal: model.SignalJobCanceled},
	})
	if deleteData {
		if err := s.reg.Remove(id, true); err != nil {
			return err
		}
	}
	s.publishQueue()
	return nil
}

// Prioritize moves a queued job to the head. Force mode additionally pauses
// the running job, which re-enters the queue at the tail once it checkpoints.
func (s *Supervisor) Prioritize(id string, mode model.PrioritizeMode) error {
	job := s.reg.Get(id)
	if job == nil {
		return fmt.Errorf("unknown job %s", id)
	}
	if job.Status != model.StatusQueued {
		return fmt.Errorf("job %s cannot be prioritized from status %s", id, job.Status)
	}

	s.mu.Lock()
	idx := slices.Index(s.queue, id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("job %s is not in the queue", id)
	}
	s.queue = slices.Delete(s.queue, idx, idx+1)
	s.queue = append([]string{id}, s.queue...)

	var ctl *executor.Control
	if mode == model.PrioritizeForce && s.runningID != "" {
		s.preempted = s.runningID
		ctl = s.controls[s.runningID]
	}
	s.mu.Unlock()

	if ctl != nil {
		ctl.RequestPause()
	}
	s.publishQueue()
	s.kick()
	return nil
}

// Reorder replaces the pending queue order. ids must be an exact permutation
// of the currently queued jobs; the running job is not part of it.
func (s *Supervisor) Reorder(ids []string) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.publishQueue()
	}()

	if len(ids) != len(s.queue) {
		return errkind.Errorf(errkind.KindInvalidQueueOrder,
			"got %d ids, queue holds %d", len(ids), len(s.queue))
	}
	current := make(map[string]bool, len(s.queue))
	for _, id := range s.queue {
		current[id] = true
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !current[id] {
			return errkind.Errorf(errkind.KindInvalidQueueOrder, "job %s is not queued", id)
		}
		if seen[id] {
			return errkind.Errorf(errkind.KindInvalidQueueOrder, "job %s repeated", id)
		}
		seen[id] = true
	}
	s.queue = slices.Clone(ids)
	return nil
}

// State snapshots the queue for the API.
func (s *Supervisor) State() model.QueueState {
	s.mu.Lock()
	st := model.QueueState{
		Queue:       slices.Clone(s.queue),
		RunningID:   s.runningID,
		Interrupted: s.interrupted,
	}
	s.mu.Unlock()

	st.Jobs = make(map[string]*model.Job, len(st.Queue)+1)
	for _, id := range st.Queue {
		if j := s.reg.Get(id); j != nil {
			st.Jobs[id] = j
		}
	}
	if st.RunningID != "" {
		if j := s.reg.Get(st.RunningID); j != nil {
			st.Jobs[st.RunningID] = j
		}
	}
	return st
}

func (s *Supervisor) publishQueue() {
	s.mu.Lock()
	payload := model.QueuePayload{
		Queue:       slices.Clone(s.queue),
		RunningID:   s.runningID,
		Interrupted: s.interrupted,
	}
	s.mu.Unlock()
	s.hub.PublishGlobal(model.Event{Type: model.EventQueueUpdate, Data: payload})
}

func (s *Supervisor) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
