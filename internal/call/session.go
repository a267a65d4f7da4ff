// Package call runs one phone call per stream: the listener side rings a
// ringtone until the media ends or either side hangs up, the dialer side
// sends the invite and waits for the call to end.
package call

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/looplab/fsm"

	"github.com/petervdpas/radyo/internal/util"
)

var log = logging.Logger("radyo/call")

// Session is one call attempt on one stream.
type Session struct {
	id      string
	role    Role
	peer    string
	started time.Time

	sm      *fsm.FSM
	hub     *Hub
	metrics *Metrics

	hangup     chan struct{}
	hangupOnce sync.Once

	mu       sync.Mutex
	ringtone string
}

func newSession(role Role, peer string, hub *Hub, m *Metrics) *Session {
	s := &Session{
		id:      uuid.NewString(),
		role:    role,
		peer:    peer,
		started: time.Now(),
		hub:     hub,
		metrics: m,
		hangup:  make(chan struct{}),
	}
	s.sm = newStateMachine(role, s.entered)
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Role() Role         { return s.role }
func (s *Session) Peer() string       { return s.peer }
func (s *Session) Started() time.Time { return s.started }
func (s *Session) State() State       { return State(s.sm.Current()) }

// Hangup asks the session to end from this side. Idempotent.
func (s *Session) Hangup() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// Info is a point-in-time view of a session.
type Info struct {
	ID       string    `json:"id"`
	Role     Role      `json:"role"`
	Peer     string    `json:"peer"`
	State    State     `json:"state"`
	Ringtone string    `json:"ringtone,omitempty"`
	Started  time.Time `json:"started"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	rt := s.ringtone
	s.mu.Unlock()
	return Info{
		ID:       s.id,
		Role:     s.role,
		Peer:     s.peer,
		State:    s.State(),
		Ringtone: rt,
		Started:  s.started,
	}
}

func (s *Session) setRingtone(asset string) {
	s.mu.Lock()
	s.ringtone = asset
	s.mu.Unlock()
}

// Outcome describes how a session ended.
type Outcome struct {
	Session  string
	Role     Role
	Peer     string
	Reason   EndReason
	Err      error
	Acked    bool // HangupAck sent (listener) or received (dialer)
	Ringtone string
	Duration time.Duration
}

func (s *Session) fire(event string, args ...any) {
	if err := s.sm.Event(context.Background(), event, args...); err != nil {
		log.Debugw("ignored state event", s.kv("event", event, "err", err)...)
	}
}

func (s *Session) entered(from, to State, args []any) {
	e := Event{
		Session: s.id,
		Role:    s.role,
		Peer:    s.peer,
		From:    from,
		State:   to,
		Time:    time.Now(),
	}
	if len(args) > 0 {
		e.Reason, _ = args[0].(EndReason)
	}
	log.Infow("call state", s.kv("from", from, "state", to)...)
	s.metrics.transition(s.role, to)
	s.hub.publish(e)
}

func (s *Session) end(reason EndReason, acked bool, err error) Outcome {
	s.fire(evEnd, reason)

	s.mu.Lock()
	rt := s.ringtone
	s.mu.Unlock()

	o := Outcome{
		Session:  s.id,
		Role:     s.role,
		Peer:     s.peer,
		Reason:   reason,
		Err:      err,
		Acked:    acked,
		Ringtone: rt,
		Duration: time.Since(s.started),
	}
	s.metrics.ended(o)
	if err != nil {
		log.Warnw("call ended", s.kv("reason", reason, "err", err)...)
	} else {
		log.Infow("call ended", s.kv("reason", reason, "acked", acked, "duration", o.Duration.Round(time.Millisecond))...)
	}
	return o
}

func (s *Session) kv(extra ...any) []any {
	return append([]any{"call", util.ShortID(s.id), "role", s.role, "peer", shortPeer(s.peer)}, extra...)
}

func shortPeer(p string) string {
	if len(p) > 16 {
		return p[len(p)-8:]
	}
	return p
}
