// SPDX-License-Identifier: MIT

// Package registry keeps the in-memory map of all known jobs and mirrors
// every mutation to disk before publishing it to subscribers.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/store"
)

// Registry owns the JobID -> Job map. All accessors return clones; callers
// never share memory with the registry.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*model.Job
	store *store.Store
	hub   *hub.Hub
}

// New creates an empty registry.
func New(st *store.Store, h *hub.Hub) *Registry {
	return &Registry{
		jobs:  make(map[string]*model.Job),
		store: st,
		hub:   h,
	}
}

// Create registers a new job for the given input file and persists it.
func (r *Registry) Create(filename, title, inputPath string) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Title:     title,
		Status:    model.StatusCreated,
		Phase:     model.PhasePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveState(job); err != nil {
		return nil, fmt.Errorf("persist new job: %w", err)
	}
	if err := r.store.SetIndexEntry(job.ID, inputPath); err != nil {
		return nil, fmt.Errorf("index new job: %w", err)
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	log.WithComponent("registry").Info().
		Str("event", "job.created").
		Str("job_id", job.ID).
		Str("filename", filename).
		Msg("job registered")
	r.publishStatus(job)
	return job.Clone(), nil
}

// Get returns a clone of the job, or nil if unknown.
func (r *Registry) Get(id string) *model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if job, ok := r.jobs[id]; ok {
		return job.Clone()
	}
	return nil
}

// List returns clones of all jobs, newest first.
func (r *Registry) List() []*model.Job {
	r.mu.RLock()
	out := make([]*model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Update applies fn to the job under the write lock, persists the snapshot,
// and publishes the status to the global channel. fn must not block.
func (r *Registry) Update(id string, fn func(*model.Job)) (*model.Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown job %s", id)
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.Clone()
	r.mu.Unlock()

	if err := r.store.SaveState(snapshot); err != nil {
		return nil, fmt.Errorf("persist job %s: %w", id, err)
	}
	r.publishStatus(snapshot)
	if snapshot.Status.IsTerminal() {
		metrics.JobsTotal.WithLabelValues(string(snapshot.Status)).Inc()
	}
	return snapshot, nil
}

// SetProgress updates transient progress fields in memory and publishes a
// global job_progress event. Durable resume data lives in the checkpoint,
// so no disk write happens here.
func (r *Registry) SetProgress(id string, phase model.Phase, phasePct, pct float64, msg, language string) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	job.Phase = phase
	job.PhasePercent = phasePct
	job.Percent = pct
	job.Message = msg
	if language != "" {
		job.Language = language
	}
	job.UpdatedAt = time.Now().UTC()
	snapshot := job.Clone()
	r.mu.Unlock()

	r.hub.PublishGlobal(model.Event{
		Type:  model.EventJobProgress,
		JobID: id,
		Data: model.ProgressPayload{
			Phase:        snapshot.Phase,
			PhasePercent: snapshot.PhasePercent,
			Percent:      snapshot.Percent,
			Message:      snapshot.Message,
			Language:     snapshot.Language,
		},
	})
}

// Remove drops a job from the registry and its index entry. The working
// directory is only removed when wipeData is set.
func (r *Registry) Remove(id string, wipeData bool) error {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
	if err := r.store.RemoveIndexEntry(id); err != nil {
		return err
	}
	if wipeData {
		return r.store.RemoveJobDir(id)
	}
	return nil
}

// LoadAll restores all persisted jobs at startup. Jobs found mid-processing
// are reclassified to interrupted; their IDs are returned for the supervisor
// to consider for auto-resume.
func (r *Registry) LoadAll() ([]string, error) {
	logger := log.WithComponent("registry")

	dropped, err := r.store.SweepIndex()
	if err != nil {
		return nil, fmt.Errorf("startup index sweep: %w", err)
	}
	for _, id := range dropped {
		logger.Warn().Str("event", "job.index_swept").Str("job_id", id).Msg("dropped index entry referencing missing files")
	}

	ids, err := r.store.ListJobDirs()
	if err != nil {
		return nil, err
	}
	var interrupted []string
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		job, err := r.store.LoadState(id)
		if err != nil {
			logger.Warn().Err(err).Str("event", "job.state_unreadable").Str("job_id", id).Msg("skipping job with unreadable state")
			continue
		}
		if job == nil {
			continue
		}
		if job.Status == model.StatusProcessing || job.Status == model.StatusQueued {
			job.Status = model.StatusInterrupted
			job.Message = "interrupted by shutdown"
			if err := r.store.SaveState(job); err != nil {
				logger.Error().Err(err).Str("job_id", id).Msg("persist interrupted reclassification")
			}
			interrupted = append(interrupted, job.ID)
		}
		r.jobs[job.ID] = job
	}
	logger.Info().
		Str("event", "registry.loaded").
		Int("jobs", len(r.jobs)).
		Int("interrupted", len(interrupted)).
		Msg("registry restored from disk")
	return interrupted, nil
}

func (r *Registry) publishStatus(job *model.Job) {
	r.hub.PublishGlobal(model.Event{
		Type:  model.EventJobStatus,
		JobID: job.ID,
		Data: model.StatusPayload{
			ID:      job.ID,
			Status:  job.Status,
			Percent: job.Percent,
			Message: job.Message,
		},
	})
}
