package pipeline

import (
	"sync"
	"time"

	"github.com/MrWong99/patternlab/internal/pattern"
)

// EventType identifies what happened in a run.
type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventPatternCompleted EventType = "pattern_completed"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
)

// Event is a progress notification for one run. Pattern events carry the
// running Current count, which is strictly increasing within a run.
type Event struct {
	RunID       string        `json:"run_id"`
	Type        EventType     `json:"type"`
	Current     int           `json:"current"`
	Total       int           `json:"total"`
	Pattern     string        `json:"pattern,omitempty"`
	Phase       pattern.Phase `json:"phase,omitempty"`
	PhaseName   string        `json:"phase_name,omitempty"`
	Description string        `json:"description,omitempty"`
	Error       bool          `json:"error,omitempty"`
	State       State         `json:"state"`
	Method      Method        `json:"method,omitempty"`
	Time        time.Time     `json:"time"`
}

// Publisher receives run events. Publish is called synchronously from the
// goroutine that completed the step and must not block for long.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to [Publisher].
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

type discard struct{}

func (discard) Publish(Event) {}

// Hub fans events out to any number of subscribers. Each subscriber has its
// own buffer; a subscriber that falls behind loses events instead of stalling
// the run.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool

	dropped int
}

// NewHub returns a Hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{buffer: buffer, subs: make(map[chan Event]struct{})}
}

// Publish delivers e to every subscriber that has room for it.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func unregisters
// it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// Fanout publishes every event to each of ps in order.
type Fanout []Publisher

// Publish implements [Publisher].
func (f Fanout) Publish(e Event) {
	for _, p := range f {
		p.Publish(e)
	}
}
