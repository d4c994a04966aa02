// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// index guards job_index.json. Cross-cutting index updates come from several
// components, so the store serializes them here.
var indexMu sync.Mutex

// LoadIndex reads job_index.json. A missing file yields an empty map.
func (s *Store) LoadIndex() (map[string]string, error) {
	indexMu.Lock()
	defer indexMu.Unlock()
	return s.loadIndexLocked()
}

func (s *Store) loadIndexLocked() (map[string]string, error) {
	raw, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read job index: %w", err)
	}
	idx := map[string]string{}
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode job index: %w", err)
	}
	return idx, nil
}

// SetIndexEntry records the absolute input path of a job.
func (s *Store) SetIndexEntry(jobID, inputPath string) error {
	indexMu.Lock()
	defer indexMu.Unlock()
	idx, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	idx[jobID] = inputPath
	return writeJSONAtomic(s.indexPath(), idx)
}

// RemoveIndexEntry drops a job from the index; unknown IDs are a no-op.
func (s *Store) RemoveIndexEntry(jobID string) error {
	indexMu.Lock()
	defer indexMu.Unlock()
	idx, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	if _, ok := idx[jobID]; !ok {
		return nil
	}
	delete(idx, jobID)
	return writeJSONAtomic(s.indexPath(), idx)
}

// InputPath returns the registered input file of a job, or "" if unknown.
func (s *Store) InputPath(jobID string) (string, error) {
	idx, err := s.LoadIndex()
	if err != nil {
		return "", err
	}
	return idx[jobID], nil
}

// SweepIndex verifies every index entry at startup: the input file and the
// working directory must both exist, otherwise the entry is dropped. The
// returned slice lists the removed job IDs.
func (s *Store) SweepIndex() ([]string, error) {
	indexMu.Lock()
	defer indexMu.Unlock()
	idx, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	var dropped []string
	for jobID, input := range idx {
		if _, err := os.Stat(input); err != nil {
			dropped = append(dropped, jobID)
			continue
		}
		if _, err := os.Stat(s.JobDir(jobID)); err != nil {
			dropped = append(dropped, jobID)
		}
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	for _, jobID := range dropped {
		delete(idx, jobID)
	}
	if err := writeJSONAtomic(s.indexPath(), idx); err != nil {
		return dropped, err
	}
	return dropped, nil
}
