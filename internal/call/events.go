package call

import (
	"sync"
	"time"

	"github.com/petervdpas/radyo/internal/util"
)

// Event is one session state transition.
type Event struct {
	Session string    `json:"session"`
	Role    Role      `json:"role"`
	Peer    string    `json:"peer,omitempty"`
	From    State     `json:"from"`
	State   State     `json:"state"`
	Reason  EndReason `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

// Hub fans session events out to subscribers and keeps the most recent ones.
// A nil *Hub drops everything.
type Hub struct {
	mu     sync.Mutex
	recent *util.Recent[Event]
	subs   map[chan Event]struct{}
}

// NewHub returns a hub remembering up to max events.
func NewHub(max int) *Hub {
	if max <= 0 {
		max = 100
	}
	return &Hub{
		recent: util.NewRecent[Event](max),
		subs:   make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel of future events. Slow subscribers miss events
// rather than stall a session.
func (h *Hub) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 32)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel = func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns the remembered events, oldest first.
func (h *Hub) Recent() []Event {
	if h == nil {
		return nil
	}
	return h.recent.Tail(0)
}

func (h *Hub) publish(e Event) {
	if h == nil {
		return
	}
	h.recent.Add(e)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
