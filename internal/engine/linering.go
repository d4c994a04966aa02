// SPDX-License-Identifier: MIT

package engine

import (
	"strings"
	"sync"
)

// lineRing is a thread-safe ring buffer capturing the last N lines of tool
// stderr, so failures can be reported with context.
type lineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

func newLineRing(capacity int) *lineRing {
	if capacity < 1 {
		capacity = 64
	}
	return &lineRing{lines: make([]string, capacity), size: capacity}
}

// Write implements io.Writer over line-oriented stderr output.
func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// Tail returns up to n captured lines in chronological order.
func (r *lineRing) Tail(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// String joins the whole tail for error messages.
func (r *lineRing) String() string {
	return strings.Join(r.Tail(r.size), "\n")
}
