// SPDX-License-Identifier: MIT

package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.txt")

	require.NoError(t, store.WriteFileAtomic(path, []byte("v1")))
	require.NoError(t, store.WriteFileAtomic(path, []byte("v2")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// No temp files may remain after commit.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStateRoundtrip(t *testing.T) {
	s := newStore(t)
	job := &model.Job{
		ID:        "job-1",
		Filename:  "talk.mp4",
		Status:    model.StatusPaused,
		Phase:     model.PhaseTranscribe,
		Percent:   42.5,
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SaveState(job))

	got, err := s.LoadState("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Phase, got.Phase)
	assert.Equal(t, job.Percent, got.Percent)
}

func TestLoadStateMissing(t *testing.T) {
	s := newStore(t)
	got, err := s.LoadState("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointRoundtrip(t *testing.T) {
	s := newStore(t)
	cp := &model.Checkpoint{
		Phase:            model.PhaseTranscribe,
		TotalSegments:    10,
		ProcessedIndices: []int{0, 1, 2, 5},
		Language:         "en",
		Unaligned: []model.TranscriptionResult{
			{Index: 0, Text: "hello", AvgLogprob: -0.2},
		},
		Breaker: model.BreakerState{TotalRetries: 2, ProcessedSegments: 4},
	}
	require.NoError(t, s.SaveCheckpoint("job-1", cp))
	assert.False(t, cp.Timestamp.IsZero(), "save stamps the checkpoint")

	got, err := s.LoadCheckpoint("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.ProcessedIndices, got.ProcessedIndices)
	assert.Equal(t, cp.Breaker, got.Breaker)
	assert.Equal(t, "en", got.Language)
}

func TestLoadCheckpointMissingAndCorrupt(t *testing.T) {
	s := newStore(t)

	got, err := s.LoadCheckpoint("absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.EnsureJobDir("bad"))
	require.NoError(t, os.WriteFile(s.JobPath("bad", store.CheckpointFile), []byte("{not json"), 0o600))
	_, err = s.LoadCheckpoint("bad")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindCheckpointCorrupt))
}

func TestDeleteCheckpointIdempotent(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.DeleteCheckpoint("absent"))
	require.NoError(t, s.SaveCheckpoint("job-1", &model.Checkpoint{Phase: model.PhaseExtract}))
	require.NoError(t, s.DeleteCheckpoint("job-1"))
	require.NoError(t, s.DeleteCheckpoint("job-1"))
}

func TestIndexRoundtrip(t *testing.T) {
	s := newStore(t)
	input := filepath.Join(s.InputDir(), "a.mp4")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o600))

	require.NoError(t, s.SetIndexEntry("job-1", input))
	got, err := s.InputPath("job-1")
	require.NoError(t, err)
	assert.Equal(t, input, got)

	require.NoError(t, s.RemoveIndexEntry("job-1"))
	got, err = s.InputPath("job-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Removing twice is fine.
	require.NoError(t, s.RemoveIndexEntry("job-1"))
}

func TestSweepIndex(t *testing.T) {
	s := newStore(t)

	okInput := filepath.Join(s.InputDir(), "ok.mp4")
	require.NoError(t, os.WriteFile(okInput, []byte("x"), 0o600))
	require.NoError(t, s.EnsureJobDir("ok"))
	require.NoError(t, s.SetIndexEntry("ok", okInput))

	// Entry whose input file is gone.
	require.NoError(t, s.EnsureJobDir("gone-input"))
	require.NoError(t, s.SetIndexEntry("gone-input", filepath.Join(s.InputDir(), "missing.mp4")))

	// Entry whose job dir is gone.
	require.NoError(t, s.SetIndexEntry("gone-dir", okInput))

	dropped, err := s.SweepIndex()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone-input", "gone-dir"}, dropped)

	idx, err := s.LoadIndex()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ok": okInput}, idx)
}
