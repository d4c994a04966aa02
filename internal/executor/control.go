// SPDX-License-Identifier: MIT

package executor

import "sync/atomic"

// Control carries the cooperative interruption flags for one run. The
// executor polls it at every phase boundary and after each segment; no
// hard aborts are attempted while a native tool call is in flight.
type Control struct {
	pause      atomic.Bool
	cancel     atomic.Bool
	deleteData atomic.Bool
}

// NewControl returns a fresh control handle.
func NewControl() *Control { return &Control{} }

// RequestPause asks the run to checkpoint and stop at the next suspension point.
func (c *Control) RequestPause() { c.pause.Store(true) }

// RequestCancel asks the run to abort at the next suspension point.
func (c *Control) RequestCancel(deleteData bool) {
	if deleteData {
		c.deleteData.Store(true)
	}
	c.cancel.Store(true)
}

// PauseRequested reports whether a pause is pending.
func (c *Control) PauseRequested() bool { return c.pause.Load() }

// CancelRequested reports whether a cancel is pending.
func (c *Control) CancelRequested() bool { return c.cancel.Load() }

// DeleteDataRequested reports whether the cancel should wipe the working dir.
func (c *Control) DeleteDataRequested() bool { return c.deleteData.Load() }
