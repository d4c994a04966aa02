// SPDX-License-Identifier: MIT

// Package store owns the on-disk layout of the orchestrator and the atomic
// update protocol that makes the pipeline resumable across restarts.
//
// Layout under the root directory:
//
//	jobs/<job_id>/
//	  state.json      snapshot of the Job
//	  checkpoint.json partial-result record
//	  audio.wav       16 kHz mono PCM after extract
//	  vocals.wav      optional, after global separation
//	  subtitles.srt   after the srt phase
//	  thumbnail.jpg   first video frame
//	  peaks.json      downsampled waveform
//	input/            user-supplied sources
//	job_index.json    job_id -> absolute input path
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	jobsDirName   = "jobs"
	inputDirName  = "input"
	indexFileName = "job_index.json"

	StateFile      = "state.json"
	CheckpointFile = "checkpoint.json"
	AudioFile      = "audio.wav"
	VocalsFile     = "vocals.wav"
	SubtitleFile   = "subtitles.srt"
	ThumbnailFile  = "thumbnail.jpg"
	PeaksFile      = "peaks.json"
)

// Store resolves paths and performs all durable writes for the orchestrator.
type Store struct {
	root string
}

// New opens a store rooted at dir, creating the base directories.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	s := &Store{root: abs}
	for _, d := range []string{s.JobsDir(), s.InputDir()} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("create store dir %s: %w", d, err)
		}
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// JobsDir returns the directory holding all per-job working directories.
func (s *Store) JobsDir() string { return filepath.Join(s.root, jobsDirName) }

// InputDir returns the directory for user-supplied source files.
func (s *Store) InputDir() string { return filepath.Join(s.root, inputDirName) }

// JobDir returns the working directory of one job, creating it on demand.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.JobsDir(), jobID)
}

// EnsureJobDir creates the working directory for jobID.
func (s *Store) EnsureJobDir(jobID string) error {
	if err := os.MkdirAll(s.JobDir(jobID), 0o750); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}
	return nil
}

// JobPath resolves a named artifact inside the job's working directory.
func (s *Store) JobPath(jobID, name string) string {
	return filepath.Join(s.JobDir(jobID), name)
}

// indexPath returns the absolute path of job_index.json.
func (s *Store) indexPath() string { return filepath.Join(s.root, indexFileName) }

// RemoveJobDir deletes the whole working directory of a job.
func (s *Store) RemoveJobDir(jobID string) error {
	if err := os.RemoveAll(s.JobDir(jobID)); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

// Exists reports whether the named artifact is present for the job.
func (s *Store) Exists(jobID, name string) bool {
	_, err := os.Stat(s.JobPath(jobID, name))
	return err == nil
}
