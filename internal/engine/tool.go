// SPDX-License-Identifier: MIT

package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
)

// tool wraps one external inference command. The command is trusted operator
// configuration, never user input.
type tool struct {
	name string // metric label: whisper|vad|align|demucs
	bin  string
}

// run executes the tool, feeding stdin if non-nil and returning stdout.
// Stderr is kept in a ring and attached to failures.
func (t tool) run(ctx context.Context, args []string, stdin io.Reader) ([]byte, error) {
	parts := strings.Fields(t.bin)
	if len(parts) == 0 {
		return nil, errkind.Errorf(errkind.KindModelLoad, "%s command not configured", t.name)
	}
	cmd := exec.CommandContext(ctx, parts[0], append(parts[1:], args...)...) // #nosec G204 -- operator-configured tool

	var stdout bytes.Buffer
	ring := newLineRing(64)
	cmd.Stdout = &stdout
	cmd.Stderr = ring
	if stdin != nil {
		cmd.Stdin = stdin
	}

	logger := log.WithComponentFromContext(ctx, "engine")
	logger.Debug().Str("event", "tool.start").Str("tool", t.name).Strs("args", args).Msg("invoking external tool")

	err := cmd.Run()
	if err != nil {
		metrics.ToolExitTotal.WithLabelValues(t.name, "error").Inc()
		if ctx.Err() != nil {
			return nil, errkind.E(errkind.KindCanceled, ctx.Err())
		}
		classified := classifyToolError(t.name, err, ring)
		logger.Error().Err(classified).Str("event", "tool.failed").Str("tool", t.name).Msg("external tool failed")
		return nil, classified
	}
	metrics.ToolExitTotal.WithLabelValues(t.name, "ok").Inc()
	return stdout.Bytes(), nil
}

// classifyToolError maps tool stderr onto the error taxonomy.
func classifyToolError(name string, err error, ring *lineRing) error {
	tail := strings.ToLower(ring.String())
	wrapped := fmt.Errorf("%s: %w: %s", name, err, lastLines(ring, 5))
	switch {
	case strings.Contains(tail, "out of memory"), strings.Contains(tail, "cuda error"):
		return errkind.E(errkind.KindGPUOutOfMemory, wrapped)
	case strings.Contains(tail, "model") && (strings.Contains(tail, "not found") || strings.Contains(tail, "failed to load") || strings.Contains(tail, "corrupt")):
		return errkind.E(errkind.KindModelLoad, wrapped)
	}
	return wrapped
}

func lastLines(ring *lineRing, n int) string {
	return strings.Join(ring.Tail(n), " | ")
}
