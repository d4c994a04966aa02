// SPDX-License-Identifier: MIT

package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/watcher"
)

type fakeCreator struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeCreator) Create(filename, title, inputPath string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, filename)
	return &model.Job{ID: "job-" + filename, Filename: filename, Title: title}, nil
}

func (f *fakeCreator) created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

func startWatcher(t *testing.T, dir string, creator *fakeCreator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.New(dir, creator).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// Give fsnotify a moment to register the directory.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcherAdmitsSettledMedia(t *testing.T) {
	dir := t.TempDir()
	creator := &fakeCreator{}
	startWatcher(t, dir, creator)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("media"), 0o600))

	require.Eventually(t, func() bool {
		return len(creator.created()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"clip.mp4"}, creator.created())
}

func TestWatcherIgnoresNonMedia(t *testing.T) {
	dir := t.TempDir()
	creator := &fakeCreator{}
	startWatcher(t, dir, creator)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.mp4"), nil, 0o600))

	// Well past the settle window: nothing should have been admitted.
	time.Sleep(3 * time.Second)
	assert.Empty(t, creator.created(), "text files and empty files are never admitted")
}

func TestWatcherAdmitsPreexistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.mkv"), []byte("media"), 0o600))

	creator := &fakeCreator{}
	startWatcher(t, dir, creator)

	require.Eventually(t, func() bool {
		return len(creator.created()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"old.mkv"}, creator.created())
}

func TestWatcherAdmitsOnce(t *testing.T) {
	dir := t.TempDir()
	creator := &fakeCreator{}
	startWatcher(t, dir, creator)

	path := filepath.Join(dir, "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o600))
	require.Eventually(t, func() bool {
		return len(creator.created()) == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Touching the admitted file again must not create a second job.
	require.NoError(t, os.WriteFile(path, []byte("media more"), 0o600))
	time.Sleep(3 * time.Second)
	assert.Len(t, creator.created(), 1)
}
