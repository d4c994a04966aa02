// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/scribedev/scribed/internal/media"
	"github.com/scribedev/scribed/internal/srt"
	"github.com/scribedev/scribed/internal/store"
)

// maxSRTSize bounds uploaded subtitle documents.
const maxSRTSize = 10 << 20

// handleMediaVideo range-serves the original input file. http.ServeFile
// handles Range, If-Modified-Since and HEAD.
func (s *Server) handleMediaVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}
	inputPath, err := s.store.InputPath(id)
	if err != nil || inputPath == "" {
		writeNotFound(w)
		return
	}
	http.ServeFile(w, r, inputPath)
}

// handleMediaAudio range-serves the extracted 16 kHz mono WAV.
func (s *Server) handleMediaAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}
	path := s.store.JobPath(id, store.AudioFile)
	if _, err := os.Stat(path); err != nil {
		writeNotFound(w)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

// handleMediaPeaks serves the waveform. The persisted proxy artifact is
// preferred; a custom resolution is computed on demand.
func (s *Server) handleMediaPeaks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}

	samples := 0
	if raw := r.URL.Query().Get("samples"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 20000 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("samples must be 1..20000, got %q", raw))
			return
		}
		samples = n
	}

	if samples == 0 || samples == media.DefaultPeakSamples {
		if data, err := os.ReadFile(s.store.JobPath(id, store.PeaksFile)); err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
			return
		}
	}

	audioPath := s.store.JobPath(id, store.AudioFile)
	if _, err := os.Stat(audioPath); err != nil {
		writeError(w, http.StatusNotFound, errors.New("audio not yet extracted"))
		return
	}
	peaks, err, _ := s.peaksGroup.Do(fmt.Sprintf("%s/%d", id, samples), func() (any, error) {
		p, perr := media.Peaks(audioPath, samples)
		if perr != nil {
			return nil, perr
		}
		// Default-resolution results become the persisted proxy artifact so
		// subsequent requests are served from disk.
		if samples == 0 || samples == media.DefaultPeakSamples {
			if buf, merr := json.Marshal(p); merr == nil {
				_ = store.WriteFileAtomic(s.store.JobPath(id, store.PeaksFile), buf)
			}
		}
		return p, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, peaks)
}

func (s *Server) handleGetSRT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}
	data, err := os.ReadFile(s.store.JobPath(id, store.SubtitleFile))
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("no subtitles for this job"))
		return
	}
	w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
	_, _ = w.Write(data)
}

// handlePutSRT replaces the subtitle artifact with client-edited content.
// The document must parse; writes are atomic like every other artifact.
func (s *Server) handlePutSRT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSRTSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) > maxSRTSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("subtitle document too large"))
		return
	}
	if _, err := srt.Parse(data); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid SRT: %w", err))
		return
	}
	if err := store.WriteFileAtomic(s.store.JobPath(id, store.SubtitleFile), data); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "saved"})
}

// handleCopyResult places the SRT next to the source file, named after it.
func (s *Server) handleCopyResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.reg.Get(id) == nil {
		writeNotFound(w)
		return
	}
	inputPath, err := s.store.InputPath(id)
	if err != nil || inputPath == "" {
		writeError(w, http.StatusNotFound, errors.New("job has no registered input"))
		return
	}
	data, err := os.ReadFile(s.store.JobPath(id, store.SubtitleFile))
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("no subtitles for this job"))
		return
	}
	dst := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".srt"
	if err := store.WriteFileAtomic(dst, data); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "path": dst})
}
