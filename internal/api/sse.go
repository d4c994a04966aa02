// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/model"
)

// handleJobStream serves the per-job SSE channel. The first event is always
// initial_state with the job snapshot and checkpoint, so clients render
// correct state before any live event arrives.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job := s.reg.Get(id)
	if job == nil {
		writeNotFound(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	// Subscribe before snapshotting so no event between snapshot and
	// subscription is lost; duplicates are cheaper than gaps.
	sub := s.hub.SubscribeJob(id)
	defer sub.Close()

	cp, err := s.store.LoadCheckpoint(id)
	if err != nil {
		cp = nil // corrupt checkpoints don't block streaming
	}
	initial := model.Event{
		Type:  model.EventInitialState,
		JobID: id,
		Data:  model.InitialStatePayload{Job: s.reg.Get(id), Checkpoint: cp},
	}
	s.streamEvents(w, r, flusher, sub, initial)
}

// handleGlobalStream serves the dashboard SSE channel.
func (s *Server) handleGlobalStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	sub := s.hub.SubscribeGlobal()
	defer sub.Close()

	state := s.sup.State()
	initial := model.Event{
		Type: model.EventInitialState,
		Data: model.InitialStatePayload{
			Jobs:      s.reg.List(),
			Queue:     state.Queue,
			RunningID: state.RunningID,
		},
	}
	s.streamEvents(w, r, flusher, sub, initial)
}

// streamEvents writes the initial event and then relays the subscription
// until the client disconnects or the subscriber is dropped by the hub.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *hub.Subscriber, initial model.Event) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, initial); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// Buffer overflow disconnect; the client reconnects and
				// receives a fresh initial_state.
				return
			}
			if err := writeSSE(w, ev); err != nil {
				log.WithComponentFromContext(ctx, "api").Debug().
					Err(err).Msg("SSE write failed, closing stream")
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE renders one event in text/event-stream framing.
func writeSSE(w http.ResponseWriter, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
