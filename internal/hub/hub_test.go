// SPDX-License-Identifier: MIT

package hub_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func recvOne(t *testing.T, sub *hub.Subscriber) model.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscriber closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestPublishJobOrdering(t *testing.T) {
	h := hub.New(16, time.Hour)
	sub := h.SubscribeJob("job-1")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.PublishJob("job-1", model.Event{
			Type: model.EventProgress,
			Data: model.ProgressPayload{Processed: i},
		})
	}
	for i := 0; i < 5; i++ {
		ev := recvOne(t, sub)
		assert.Equal(t, model.EventProgress, ev.Type)
		assert.Equal(t, i, ev.Data.(model.ProgressPayload).Processed)
	}
}

func TestJobIsolation(t *testing.T) {
	h := hub.New(16, time.Hour)
	a := h.SubscribeJob("a")
	defer a.Close()
	b := h.SubscribeJob("b")
	defer b.Close()

	h.PublishJob("a", model.Event{Type: model.EventSegment})
	ev := recvOne(t, a)
	assert.Equal(t, "a", ev.JobID)

	select {
	case ev := <-b.Events():
		t.Fatalf("subscriber of job b received %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverflowDropsOldestNonSignal(t *testing.T) {
	h := hub.New(4, time.Hour)
	sub := h.SubscribeJob("job-1")
	defer sub.Close()

	// Fill the buffer without draining: one signal among progress events.
	// The pump takes the first event immediately, so publish one extra.
	h.PublishJob("job-1", model.Event{Type: model.EventProgress, Data: 0})
	time.Sleep(20 * time.Millisecond) // let the pump park it on the out channel

	h.PublishJob("job-1", model.Event{
		Type: model.EventSignal,
		Data: model.SignalPayload{Signal: model.SignalJobComplete},
	})
	for i := 1; i <= 4; i++ {
		h.PublishJob("job-1", model.Event{Type: model.EventProgress, Data: i})
	}

	// Buffer was full at the last publish: the oldest non-signal progress
	// event must be gone while the signal survived.
	var got []model.Event
	got = append(got, recvOne(t, sub)) // the parked event
	for i := 0; i < 4; i++ {
		got = append(got, recvOne(t, sub))
	}

	var signals, progress int
	for _, ev := range got {
		switch ev.Type {
		case model.EventSignal:
			signals++
		case model.EventProgress:
			progress++
		}
	}
	assert.Equal(t, 1, signals, "signal must never be dropped")
	assert.Equal(t, 4, progress, "exactly one progress event dropped")
}

func TestOverflowOfSignalsDisconnects(t *testing.T) {
	h := hub.New(2, time.Hour)
	sub := h.SubscribeJob("job-1")
	defer sub.Close()

	// Park one event on the out channel, then overfill the buffer with
	// signals only. With no droppable event left the hub must disconnect.
	h.PublishJob("job-1", model.Event{Type: model.EventProgress})
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 4; i++ {
		h.PublishJob("job-1", model.Event{
			Type: model.EventSignal,
			Data: model.SignalPayload{Signal: fmt.Sprintf("s%d", i)},
		})
	}

	deadline := time.After(2 * time.Second)
	closed := false
	for !closed {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("subscriber was not disconnected")
		}
	}
}

func TestGlobalFanout(t *testing.T) {
	h := hub.New(16, time.Hour)
	a := h.SubscribeGlobal()
	defer a.Close()
	b := h.SubscribeGlobal()
	defer b.Close()

	h.PublishGlobal(model.Event{Type: model.EventQueueUpdate})
	assert.Equal(t, model.EventQueueUpdate, recvOne(t, a).Type)
	assert.Equal(t, model.EventQueueUpdate, recvOne(t, b).Type)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := hub.New(4, time.Hour)
	sub := h.SubscribeJob("job-1")
	sub.Close()
	sub.Close()

	// Publishing after close must not panic or block.
	h.PublishJob("job-1", model.Event{Type: model.EventProgress})
}
