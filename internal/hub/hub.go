// SPDX-License-Identifier: MIT

// Package hub fans out pipeline events to SSE subscribers. It keeps two
// channel varieties: one per job and one global dashboard channel. Publishers
// never block; slow subscribers lose their oldest non-signal events first and
// are disconnected if their buffer still overflows.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribedev/scribed/internal/log"
	"github.com/scribedev/scribed/internal/metrics"
	"github.com/scribedev/scribed/internal/model"
)

const globalChannel = "global"

// Hub is the event broadcaster. Construct with New; share by pointer.
type Hub struct {
	mu         sync.RWMutex
	jobSubs    map[string]map[string]*Subscriber
	globalSubs map[string]*Subscriber
	bufSize    int
	heartbeat  time.Duration
}

// New creates a hub with the given per-subscriber buffer size and heartbeat
// interval. Zero values fall back to 256 events and 15 seconds.
func New(bufSize int, heartbeat time.Duration) *Hub {
	if bufSize <= 0 {
		bufSize = 256
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Hub{
		jobSubs:    make(map[string]map[string]*Subscriber),
		globalSubs: make(map[string]*Subscriber),
		bufSize:    bufSize,
		heartbeat:  heartbeat,
	}
}

// Run emits ping events on every open connection until ctx is done. Idle
// connections would otherwise be closed silently by intermediaries.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ping := model.Event{Type: model.EventPing}
			h.mu.RLock()
			subs := make([]*Subscriber, 0, len(h.globalSubs))
			for _, sub := range h.globalSubs {
				subs = append(subs, sub)
			}
			for _, m := range h.jobSubs {
				for _, sub := range m {
					subs = append(subs, sub)
				}
			}
			h.mu.RUnlock()
			for _, sub := range subs {
				sub.enqueue(ping)
			}
		}
	}
}

// SubscribeJob opens a subscription to one job's channel.
func (h *Hub) SubscribeJob(jobID string) *Subscriber {
	sub := newSubscriber(h, jobID)
	h.mu.Lock()
	m, ok := h.jobSubs[jobID]
	if !ok {
		m = make(map[string]*Subscriber)
		h.jobSubs[jobID] = m
	}
	m[sub.ID] = sub
	h.mu.Unlock()
	metrics.SSESubscribers.WithLabelValues("job").Inc()
	return sub
}

// SubscribeGlobal opens a subscription to the dashboard channel.
func (h *Hub) SubscribeGlobal() *Subscriber {
	sub := newSubscriber(h, "")
	h.mu.Lock()
	h.globalSubs[sub.ID] = sub
	h.mu.Unlock()
	metrics.SSESubscribers.WithLabelValues(globalChannel).Inc()
	return sub
}

// PublishJob delivers an event to every subscriber of jobID.
func (h *Hub) PublishJob(jobID string, ev model.Event) {
	ev.JobID = jobID
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.jobSubs[jobID]))
	for _, sub := range h.jobSubs[jobID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.enqueue(ev)
	}
}

// PublishGlobal delivers an event to every dashboard subscriber.
func (h *Hub) PublishGlobal(ev model.Event) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.globalSubs))
	for _, sub := range h.globalSubs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.enqueue(ev)
	}
}

// remove detaches a subscriber from the routing tables.
func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	if sub.jobID == "" {
		if _, ok := h.globalSubs[sub.ID]; ok {
			delete(h.globalSubs, sub.ID)
			metrics.SSESubscribers.WithLabelValues(globalChannel).Dec()
		}
	} else if m, ok := h.jobSubs[sub.jobID]; ok {
		if _, ok := m[sub.ID]; ok {
			delete(m, sub.ID)
			metrics.SSESubscribers.WithLabelValues("job").Dec()
		}
		if len(m) == 0 {
			delete(h.jobSubs, sub.jobID)
		}
	}
	h.mu.Unlock()
}

// Subscriber is one open event stream. Events() yields events in publication
// order; the channel closes when the subscriber is disconnected.
type Subscriber struct {
	ID    string
	hub   *Hub
	jobID string

	mu     sync.Mutex
	queue  []model.Event
	notify chan struct{}
	done   chan struct{}
	out    chan model.Event
	once   sync.Once
}

func newSubscriber(h *Hub, jobID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		hub:    h,
		jobID:  jobID,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan model.Event),
	}
	go sub.pump()
	return sub
}

// Events returns the ordered delivery channel.
func (s *Subscriber) Events() <-chan model.Event { return s.out }

// Close detaches the subscriber. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.done)
	})
}

// enqueue appends an event, applying the bounded-buffer drop policy: the
// oldest non-signal event goes first; if only signals remain, the subscriber
// is disconnected and expected to reconnect for a fresh initial_state.
func (s *Subscriber) enqueue(ev model.Event) {
	s.mu.Lock()
	if len(s.queue) >= s.hub.bufSize {
		if !s.dropOldestLocked() {
			s.mu.Unlock()
			metrics.SSEDroppedTotal.WithLabelValues("disconnect").Inc()
			log.WithComponent("hub").Warn().
				Str("event", "sse.subscriber_dropped").
				Str("subscriber_id", s.ID).
				Str("job_id", s.jobID).
				Msg("subscriber buffer overflow, disconnecting")
			s.Close()
			return
		}
		metrics.SSEDroppedTotal.WithLabelValues("overflow").Inc()
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dropOldestLocked removes the oldest non-critical event. Returns false when
// every buffered event is a signal that must not be dropped.
func (s *Subscriber) dropOldestLocked() bool {
	for i, ev := range s.queue {
		if !ev.Critical() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// pump drains the buffer into the out channel, preserving order.
func (s *Subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var (
			ev   model.Event
			have bool
		)
		if len(s.queue) > 0 {
			ev, have = s.queue[0], true
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.done:
				return
			case <-s.notify:
				continue
			}
		}

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
