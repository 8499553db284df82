package session

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a server-pushed session state change.
type EventType string

const (
	EventQuestionReady  EventType = "question-ready"
	EventTurnFinalized  EventType = "turn-finalized"
	EventSessionExpired EventType = "session-expired"
	EventSessionDone    EventType = "session-complete"
)

// Event is pushed to subscribed clients so they never have to poll for
// session progress.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	TurnNumber int       `json:"turnNumber,omitempty"`
	Question   string    `json:"question,omitempty"`
	AudioRef   string    `json:"audioRef,omitempty"`
	At         time.Time `json:"at"`
}

// Hub fans session events out to per-connection subscribers. It is
// constructed once and passed to components; subscriptions are removed
// when the subscriber's context ends.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for one session. The channel is
// closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) <-chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Publish delivers the event to current subscribers without blocking;
// a slow subscriber misses events rather than stalling the publisher.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
