// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/model"
)

// SaveState persists the job snapshot to state.json.
func (s *Store) SaveState(job *model.Job) error {
	if err := s.EnsureJobDir(job.ID); err != nil {
		return err
	}
	return writeJSONAtomic(s.JobPath(job.ID, StateFile), job)
}

// LoadState reads state.json for the job, or nil if absent.
func (s *Store) LoadState(jobID string) (*model.Job, error) {
	raw, err := os.ReadFile(s.JobPath(jobID, StateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var job model.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", jobID, err)
	}
	return &job, nil
}

// SaveCheckpoint persists the checkpoint, stamping the write time.
func (s *Store) SaveCheckpoint(jobID string, cp *model.Checkpoint) error {
	if err := s.EnsureJobDir(jobID); err != nil {
		return err
	}
	cp.Timestamp = time.Now().UTC()
	return writeJSONAtomic(s.JobPath(jobID, CheckpointFile), cp)
}

// LoadCheckpoint reads the checkpoint for a job. A missing file returns
// (nil, nil); an unreadable one is classified KindCheckpointCorrupt so the
// executor can log it and start from scratch.
func (s *Store) LoadCheckpoint(jobID string) (*model.Checkpoint, error) {
	raw, err := os.ReadFile(s.JobPath(jobID, CheckpointFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.E(errkind.KindCheckpointCorrupt, err)
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, errkind.E(errkind.KindCheckpointCorrupt, err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes checkpoint.json; missing files are fine.
func (s *Store) DeleteCheckpoint(jobID string) error {
	err := os.Remove(s.JobPath(jobID, CheckpointFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ListJobDirs returns the job IDs that have a working directory on disk.
func (s *Store) ListJobDirs() ([]string, error) {
	entries, err := os.ReadDir(s.JobsDir())
	if err != nil {
		return nil, fmt.Errorf("scan jobs dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
