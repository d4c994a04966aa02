// SPDX-License-Identifier: MIT

// Package watcher turns files dropped into the input directory into created
// jobs automatically. Writes are debounced: a file is only admitted once its
// size has been stable for the settle window, so partially copied media is
// never picked up.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/model"
)

// settleWindow is how long a file's size must stay unchanged before admission.
const settleWindow = 2 * time.Second

// mediaExtensions lists the container types the pipeline accepts from the
// watch directory. Anything else is ignored silently.
var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true,
	".mp3": true, ".wav": true, ".flac": true, ".m4a": true, ".ogg": true,
	".aac": true, ".opus": true,
}

// Creator registers a new job for an input file; see registry.Registry.
type Creator interface {
	Create(filename, title, inputPath string) (*model.Job, error)
}

// Watcher observes one directory and admits settled media files.
type Watcher struct {
	dir     string
	creator Creator

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]bool
}

// New builds a watcher over dir.
func New(dir string, creator Creator) *Watcher {
	return &Watcher{
		dir:     dir,
		creator: creator,
		pending: make(map[string]*time.Timer),
		seen:    make(map[string]bool),
	}
}

// Run blocks until ctx is canceled, creating jobs for every media file that
// appears in the watch directory and settles.
func (w *Watcher) Run(ctx context.Context) error {
	logger := log.WithComponent("watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	logger.Info().Str("event", "watcher.started").Str("dir", w.dir).Msg("watching input directory")

	// Files already present when the watcher starts are admitted too.
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				w.schedule(ctx, filepath.Join(w.dir, entry.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
		case werr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(werr).Msg("fsnotify watcher error")
		}
	}
}

// schedule (re)arms the settle timer for path. Every write pushes the timer
// back, so only quiescent files fire.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(settleWindow)
		return
	}
	w.pending[path] = time.AfterFunc(settleWindow, func() {
		if ctx.Err() != nil {
			return
		}
		w.admit(path)
	})
}

// admit verifies the file still exists with a non-zero stable size and
// creates the job.
func (w *Watcher) admit(path string) {
	logger := log.WithComponent("watcher")

	w.mu.Lock()
	delete(w.pending, path)
	already := w.seen[path]
	w.mu.Unlock()
	if already {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return
	}

	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))
	job, err := w.creator.Create(name, title, path)
	if err != nil {
		logger.Error().Err(err).Str("file", name).Msg("auto-create job")
		return
	}

	w.mu.Lock()
	w.seen[path] = true
	w.mu.Unlock()
	logger.Info().
		Str("event", "watcher.job_created").
		Str("job_id", job.ID).
		Str("file", name).
		Msg("job created from watched file")
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
