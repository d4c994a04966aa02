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
	"golang.org/x/text/unicode/norm"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/model"
)

// maxUploadMemory bounds the multipart parser's in-memory buffer; larger
// bodies spill to temp files.
const maxUploadMemory = 32 << 20

// sanitizeFilename reduces a client-supplied name to a safe basename.
// Unicode is normalized to NFC so the same visual name maps to one file.
func sanitizeFilename(name string) (string, error) {
	name = norm.NFC.String(name)
	name = filepath.Base(filepath.Clean(name))
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return "", errors.New("invalid filename")
	}
	return name, nil
}

// inputFilePath resolves name inside the input directory, rejecting escapes.
func (s *Server) inputFilePath(name string) (string, error) {
	clean, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.store.InputDir(), clean)
	if !strings.HasPrefix(path, s.store.InputDir()+string(os.PathSeparator)) {
		return "", errors.New("invalid filename")
	}
	return path, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing file field"))
		return
	}
	defer file.Close()

	dst, err := s.inputFilePath(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640) // #nosec G304 -- sanitized above
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := out.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	name := filepath.Base(dst)
	title := r.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	job, err := s.reg.Create(name, title, dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"job_id":   job.ID,
		"filename": name,
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filename string `json:"filename"`
		Title    string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	path, err := s.inputFilePath(req.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("input file %s not found", req.Filename))
		return
	}
	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	}
	job, err := s.reg.Create(filepath.Base(path), title, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID    string          `json:"job_id"`
		Settings json.RawMessage `json:"settings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_id is required"))
		return
	}
	if err := s.sup.Start(req.JobID, req.Settings); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": req.JobID, "status": "queued"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleteData := r.URL.Query().Get("delete_data") == "true"
	if err := s.sup.Cancel(id, deleteData); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "canceled"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Pause(id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "pausing"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sup.Resume(id); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "queued"})
}

func (s *Server) handlePrioritize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mode := model.PrioritizeMode(r.URL.Query().Get("mode"))
	switch mode {
	case "":
		mode = model.PrioritizeGentle
	case model.PrioritizeGentle, model.PrioritizeForce:
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown prioritize mode %q", mode))
		return
	}
	if err := s.sup.Prioritize(id, mode); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "mode": string(mode)})
}

func (s *Server) handleReorderQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobIDs []string `json:"job_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sup.Reorder(req.JobIDs); err != nil {
		code := http.StatusConflict
		if errkind.Is(err, errkind.KindInvalidQueueOrder) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.State())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job := s.reg.Get(chi.URLParam(r, "id"))
	if job == nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.State())
}

// handleSyncTasks returns the authoritative job list; clients use it to
// repair stale local state after reconnects.
func (s *Server) handleSyncTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.reg.List()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeError(w, http.StatusNotFound, errors.New("history archive not configured"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.hist.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}
