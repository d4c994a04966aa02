// SPDX-License-Identifier: MIT

// Command scribed runs the transcription job orchestrator: a single-host
// daemon that drives media through audio extraction, voice-activity
// detection, ASR, forced alignment and subtitle generation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/scribedev/scribed/internal/api"
	"github.com/scribedev/scribed/internal/config"
	"github.com/scribedev/scribed/internal/engine"
	"github.com/scribedev/scribed/internal/executor"
	"github.com/scribedev/scribed/internal/history"
	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/media"
	"github.com/scribedev/scribed/internal/queue"
	"github.com/scribedev/scribed/internal/registry"
	"github.com/scribedev/scribed/internal/store"
	"github.com/scribedev/scribed/internal/telemetry"
	"github.com/scribedev/scribed/internal/watcher"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Exit codes follow the sysexits convention: 64 for bad usage or
// configuration, 70 for internal failure, 130 for signal-initiated shutdown.
const (
	exitOK       = 0
	exitUsage    = 64
	exitInternal = 70
	exitSignal   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scribed %s (commit: %s, built: %s)\n", version, commit, buildDate)
		return exitOK
	}
	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", flag.Arg(0))
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitUsage
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "scribed",
		Version: version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "scribed",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Error().Err(err).Msg("telemetry setup failed")
		return exitInternal
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	st, err := store.New(cfg.RootDir)
	if err != nil {
		logger.Error().Err(err).Msg("store setup failed")
		return exitInternal
	}

	eventHub := hub.New(cfg.SSESubscriberBuffer, cfg.SSEHeartbeat)
	reg := registry.New(st, eventHub)
	conv := media.NewConverter(cfg.FFmpegPath, cfg.FFprobePath)
	engines := engine.Set{
		Transcriber:   engine.NewWhisperTool(cfg.WhisperCmd, cfg.ModelDir),
		VoiceDetector: engine.NewVADTool(cfg.VADCmd),
		Aligner:       engine.NewAlignTool(cfg.AlignCmd),
		Separator:     engine.NewDemucsTool(cfg.DemucsCmd, cfg.ModelDir),
	}
	exec := executor.New(st, reg, eventHub, engines, conv, cfg.EffectiveWeights())
	sup := queue.New(reg, exec, eventHub, st, cfg.AutoResumeOnStartup)

	var hist *history.Store
	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = filepath.Join(st.Root(), "history.db")
	}
	hist, err = history.Open(historyPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", historyPath).Msg("history archive unavailable, continuing without")
		hist = nil
	} else {
		sup.SetRecorder(hist)
		defer func() { _ = hist.Close() }()
	}

	if err := sup.Recover(); err != nil {
		logger.Error().Err(err).Msg("startup recovery failed")
		return exitInternal
	}

	server := api.New(cfg, reg, sup, eventHub, st, conv, hist, version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx) })
	g.Go(func() error { return eventHub.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// Ask the running job to checkpoint before the runner loop exits.
		sup.Shutdown()
		return nil
	})
	g.Go(func() error { return sup.Run(gctx) })
	if cfg.WatchInput {
		w := watcher.New(st.InputDir(), reg)
		g.Go(func() error { return w.Run(gctx) })
	}

	logger.Info().
		Str("event", "daemon.started").
		Str("listen", cfg.Listen).
		Str("root", st.Root()).
		Msg("scribed started")

	err = g.Wait()
	signaled := ctx.Err() != nil
	stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("daemon terminated with error")
		return exitInternal
	}
	if signaled {
		logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
		return exitSignal
	}
	return exitOK
}
