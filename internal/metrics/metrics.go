// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the transcription
// orchestrator. No high-cardinality labels (no job_id, no filenames).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts terminal job outcomes by status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_jobs_total",
		Help: "Total number of jobs reaching a terminal status.",
	}, []string{"status"})

	// QueueDepth tracks the current number of queued jobs.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribed_queue_depth",
		Help: "Current number of jobs waiting in the queue.",
	})

	// RunnerBusy is 1 while the single runner executes a job.
	RunnerBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribed_runner_busy",
		Help: "Whether the pipeline runner is currently executing a job.",
	})

	// PhaseDuration observes wall time per completed pipeline phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribed_phase_duration_seconds",
		Help:    "Duration of completed pipeline phases.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"phase"})

	// SegmentsTotal counts transcribed segments by result.
	SegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_segments_total",
		Help: "Total number of transcribed segments, by result (ok/retried).",
	}, []string{"result"})

	// EscalationsTotal counts mid-run separation model upgrades.
	EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribed_model_escalations_total",
		Help: "Total number of circuit-breaker model escalations.",
	})

	// BreakerFiredTotal counts circuit-breaker fires by action taken.
	BreakerFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_circuit_breaker_fired_total",
		Help: "Total number of circuit breaker fires, by configured action.",
	}, []string{"action"})

	// SSESubscribers tracks open SSE connections by channel kind.
	SSESubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribed_sse_subscribers",
		Help: "Current number of SSE subscribers, by channel (job/global).",
	}, []string{"channel"})

	// SSEDroppedTotal counts events dropped from full subscriber buffers.
	SSEDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_sse_dropped_events_total",
		Help: "Total number of SSE events dropped due to slow subscribers, by reason (overflow/disconnect).",
	}, []string{"reason"})

	// CheckpointWritesTotal counts durable checkpoint writes.
	CheckpointWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribed_checkpoint_writes_total",
		Help: "Total number of checkpoint files written.",
	})

	// ToolExitTotal counts external tool exits by tool and result.
	ToolExitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribed_tool_exit_total",
		Help: "Total number of external tool process exits, by tool and result.",
	}, []string{"tool", "result"})
)
