// Package streaming delivers pipeline events to subscribers. Publishing
// is decoupled from stage execution: slow consumers can lose progress
// events but never the terminal response/done/error events.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/intellistream/orchestrator/internal/metrics"
)

// Event types emitted by the pipeline, in the order a caller sees them.
const (
	TypeAgentStatus = "agent_status"
	TypeToken       = "token"
	TypeResponse    = "response"
	TypeDone        = "done"
	TypeError       = "error"
)

// Agent status values.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
)

// Event is one streaming event for a query.
type Event struct {
	QueryID   string      `json:"query_id"`
	Type      string      `json:"type"`
	Agent     string      `json:"agent,omitempty"`
	Status    string      `json:"status,omitempty"`
	Content   string      `json:"content,omitempty"`
	Message   string      `json:"message,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Seq       uint64      `json:"seq"`
}

// Marshal returns the JSON encoding for SSE/WS frames.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Terminal reports whether the event must never be dropped.
func (e Event) Terminal() bool {
	return e.Type == TypeResponse || e.Type == TypeDone || e.Type == TypeError
}

// Manager provides per-query pub/sub with a ring buffer for replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	sendTimeout time.Duration
}

// NewManager creates a manager with the given replay ring capacity and
// the timeout applied when delivering terminal events to a slow
// subscriber.
func NewManager(capacity int, sendTimeout time.Duration) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		sendTimeout: sendTimeout,
	}
}

// Subscribe adds a subscriber channel for a query; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(queryID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[queryID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[queryID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(queryID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[queryID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, queryID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and
// fans it out. Progress events are dropped for subscribers that cannot
// keep up; terminal events block up to the send timeout so a live caller
// always receives its answer.
func (m *Manager) Publish(queryID string, evt Event) {
	m.mu.Lock()
	rg := m.history[queryID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[queryID] = rg
	}
	evt.QueryID = queryID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[queryID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
	for _, ch := range targets {
		if evt.Terminal() {
			timer := time.NewTimer(m.sendTimeout)
			select {
			case ch <- evt:
				timer.Stop()
			case <-timer.C:
				metrics.EventsDropped.Inc()
			}
			continue
		}
		select {
		case ch <- evt:
		default:
			// Slow subscriber loses this progress event; replay via
			// last_event_id covers reconnects.
			metrics.EventsDropped.Inc()
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the
// ring capacity. The lock is held across the ring read because Publish
// mutates the same ring under the write lock.
func (m *Manager) ReplaySince(queryID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[queryID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history for a finished query.
func (m *Manager) Forget(queryID string) {
	m.mu.Lock()
	delete(m.history, queryID)
	m.mu.Unlock()
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
