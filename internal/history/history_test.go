// SPDX-License-Identifier: MIT

package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/history"
	"github.com/scribedev/scribed/internal/model"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func terminalJob(id string, status model.JobStatus, finished time.Time) *model.Job {
	return &model.Job{
		ID:        id,
		Filename:  id + ".mp4",
		Title:     id,
		Status:    status,
		Language:  "en",
		CreatedAt: finished.Add(-time.Hour),
		UpdatedAt: finished,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, terminalJob("old", model.StatusFinished, base)))
	failed := terminalJob("bad", model.StatusFailed, base.Add(time.Hour))
	failed.ErrorKind = "model_load"
	failed.LastError = "model file missing"
	require.NoError(t, s.Record(ctx, failed))
	require.NoError(t, s.Record(ctx, terminalJob("new", model.StatusCanceled, base.Add(2*time.Hour))))

	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].JobID, "newest first")
	assert.Equal(t, "bad", runs[1].JobID)
	assert.Equal(t, "model_load", runs[1].ErrorKind)
	assert.Equal(t, "model file missing", runs[1].LastError)
	assert.Equal(t, base.Add(time.Hour), runs[1].FinishedAt)
}

func TestRecordRejectsNonTerminal(t *testing.T) {
	s := openStore(t)
	job := terminalJob("x", model.StatusProcessing, time.Now())
	require.Error(t, s.Record(context.Background(), job))
}

func TestRecordIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	job := terminalJob("dup", model.StatusFinished, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Record(ctx, job))
	require.NoError(t, s.Record(ctx, job))

	runs, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRecentLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		job := terminalJob(string(rune('a'+i)), model.StatusFinished, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Record(ctx, job))
	}

	runs, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestOpenIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := history.Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Record(context.Background(), terminalJob("a", model.StatusFinished, time.Now())))
	require.NoError(t, s1.Close())

	// Reopening migrates nothing and keeps the data.
	s2, err := history.Open(path)
	require.NoError(t, err)
	defer s2.Close()
	runs, err := s2.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
