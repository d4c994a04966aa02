// SPDX-License-Identifier: MIT

// Package api exposes the orchestrator over HTTP: job lifecycle operations,
// two SSE event channels, range-served media and the subtitle artifacts.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/scribedev/scribed/internal/api/middleware"
	"github.com/scribedev/scribed/internal/config"
	"github.com/scribedev/scribed/internal/history"
	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/media"
	"github.com/scribedev/scribed/internal/queue"
	"github.com/scribedev/scribed/internal/registry"
	"github.com/scribedev/scribed/internal/store"
)

// Server bundles the handler dependencies. Construct with New.
type Server struct {
	cfg     config.Config
	reg     *registry.Registry
	sup     *queue.Supervisor
	hub     *hub.Hub
	store   *store.Store
	conv    *media.Converter
	hist    *history.Store // nil disables the history endpoint
	version string

	// peaksGroup deduplicates concurrent on-demand waveform computations.
	peaksGroup singleflight.Group
}

// New builds the API server. hist may be nil.
func New(cfg config.Config, reg *registry.Registry, sup *queue.Supervisor, h *hub.Hub, st *store.Store, conv *media.Converter, hist *history.Store, version string) *Server {
	return &Server{
		cfg:     cfg,
		reg:     reg,
		sup:     sup,
		hub:     h,
		store:   st,
		conv:    conv,
		hist:    hist,
		version: version,
	}
}

// Router assembles the route table with the canonical middleware stack.
func (s *Server) Router() *chi.Mux {
	tracingService := ""
	if s.cfg.Telemetry.Enabled {
		tracingService = "scribed"
	}
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        tracingService,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(10, time.Minute)).Post("/upload", s.handleUpload)
		r.Post("/create-job", s.handleCreateJob)
		r.Post("/start", s.handleStart)
		r.Post("/cancel/{id}", s.handleCancel)
		r.Post("/pause/{id}", s.handlePause)
		r.Post("/resume/{id}", s.handleResume)
		r.Post("/prioritize/{id}", s.handlePrioritize)
		r.Post("/reorder-queue", s.handleReorderQueue)

		r.Get("/status/{id}", s.handleStatus)
		r.Get("/queue-status", s.handleQueueStatus)
		r.Get("/sync-tasks", s.handleSyncTasks)
		r.Get("/history", s.handleHistory)

		r.With(middleware.RateLimit(30, time.Minute)).Get("/stream/{id}", s.handleJobStream)
		r.With(middleware.RateLimit(30, time.Minute)).Get("/events/global", s.handleGlobalStream)

		r.Get("/media/{id}/video", s.handleMediaVideo)
		r.Get("/media/{id}/audio", s.handleMediaAudio)
		r.Get("/media/{id}/peaks", s.handleMediaPeaks)
		r.Get("/media/{id}/srt", s.handleGetSRT)
		r.Post("/media/{id}/srt", s.handlePutSRT)
		r.Post("/copy-result/{id}", s.handleCopyResult)
	})
	return r
}

// Serve runs the HTTP server until ctx is canceled, then drains connections.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithComponent("api").Info().
			Str("event", "http.listening").
			Str("addr", s.cfg.Listen).
			Msg("HTTP server started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
