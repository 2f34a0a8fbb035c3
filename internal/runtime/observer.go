package runtime

import (
	"log/slog"
	"sync"

	"github.com/telic-run/telic/internal/ir"
)

// Event is one entry of a domain's observer stream.
type Event struct {
	Step    int64
	Kind    string
	Payload ir.Value
}

// Event kinds emitted by the domain loop.
const (
	EventIntentSettled     = "intent_settled"
	EventIntentFailed      = "intent_failed"
	EventTegCommitted      = "teg_committed"
	EventHandlerRegistered = "handler_registered"
	EventCommit            = "commit"
	EventHalt              = "halt"
)

// ObserverHub fans the domain's append-only event stream out to
// subscribers. Subscriber channels are buffered; a subscriber that stops
// draining loses its oldest buffered events rather than stalling the
// single writer, so the tail of the stream stays current.
type ObserverHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	log    *slog.Logger
}

// NewObserverHub creates an empty hub.
func NewObserverHub(log *slog.Logger) *ObserverHub {
	return &ObserverHub{subs: make(map[int]chan Event), log: log}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes it and closes the channel.
func (h *ObserverHub) Subscribe(buffer int) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish appends an event to the stream. A full subscriber buffer evicts
// its oldest event to make room for the new one.
func (h *ObserverHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case old := <-ch:
			h.log.Warn("observer lagging, oldest event dropped", "subscriber", id, "kind", old.Kind)
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close removes every subscriber.
func (h *ObserverHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
