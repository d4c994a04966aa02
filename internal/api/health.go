// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"os"
)

// handleHealthz reports process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleReadyz reports readiness: the store root must exist and be writable,
// which is the only external dependency needed to accept work.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	probe, err := os.CreateTemp(s.store.Root(), ".readyz-*")
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
