// SPDX-License-Identifier: MIT

// Package errkind classifies pipeline failures into a small, stable taxonomy.
// Handlers and the supervisor dispatch on the Kind, never on error strings.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is a compact, typed failure signal. Keep these stable: persisted job
// state and client UX depend on them.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindInputMissing       Kind = "input_missing"
	KindMediaDecode        Kind = "media_decode_error"
	KindModelLoad          Kind = "model_load_error"
	KindGPUOutOfMemory     Kind = "gpu_out_of_memory"
	KindTransientIO        Kind = "transient_io_error"
	KindCheckpointCorrupt  Kind = "checkpoint_corrupt"
	KindCircuitBreakerOpen Kind = "circuit_breaker_open"
	KindCanceled           Kind = "canceled"
	KindPaused             Kind = "paused"
	KindInvalidQueueOrder  Kind = "invalid_queue_order"
)

// kindError pairs an underlying error with its classification.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// E wraps err with the given kind. A nil err yields a bare kind error.
func E(kind Kind, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &kindError{kind: kind, err: err}
}

// Errorf wraps a formatted error with the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from err, walking the wrap chain.
// Unclassified errors report KindUnknown; context.Canceled maps to KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AutoRetryable reports whether a failed job with this kind may be
// re-enqueued automatically after a crash. A missing input never heals.
func AutoRetryable(kind Kind) bool {
	switch kind {
	case KindInputMissing, KindMediaDecode, KindModelLoad:
		return false
	}
	return true
}

// RetryIO runs fn up to 4 times with 1s/2s/4s backoff between attempts,
// for non-critical I/O paths. The context aborts the backoff sleep.
func RetryIO(ctx context.Context, fn func() error) error {
	var err error
	backoff := time.Second
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == 3 {
			return E(KindTransientIO, err)
		}
		select {
		case <-ctx.Done():
			return E(KindCanceled, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
