package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petervdpas/radyo/internal/media"
	"github.com/petervdpas/radyo/internal/ringtone"
	"github.com/petervdpas/radyo/internal/wire"
)

// ErrUnexpectedMessage is returned when a peer sends a message the current
// state does not allow.
var ErrUnexpectedMessage = errors.New("unexpected message")

const (
	DefaultReadyTimeout = 5 * time.Second
	DefaultAckTimeout   = 30 * time.Second
	DefaultIdleTimeout  = 30 * time.Second

	// DefaultInviteTimeout bounds the wait for the first message on a new stream.
	DefaultInviteTimeout = 10 * time.Second

	// stopWait bounds how long a session waits for the sink to wind down.
	stopWait = time.Second
)

// RingtoneLoader resolves a ringtone name to a payload. *ringtone.Library
// implements it.
type RingtoneLoader interface {
	Load(name string) (*ringtone.Payload, error)
}

// ListenerConfig wires a Listener.
type ListenerConfig struct {
	Gate      Admission
	Sink      media.Sink
	Ringtones RingtoneLoader
	// Preference returns the stored ringtone name; read once per call.
	Preference    func() string
	ReadyTimeout  time.Duration
	InviteTimeout time.Duration
	Hub           *Hub
	Metrics       *Metrics
}

// Listener answers incoming call streams.
type Listener struct {
	gate         Admission
	sink         media.Sink
	ringtones    RingtoneLoader
	preference    func() string
	readyTimeout  time.Duration
	inviteTimeout time.Duration
	hub           *Hub
	metrics       *Metrics

	active atomic.Pointer[Session]
}

func NewListener(cfg ListenerConfig) *Listener {
	l := &Listener{
		gate:          cfg.Gate,
		sink:          cfg.Sink,
		ringtones:     cfg.Ringtones,
		preference:    cfg.Preference,
		readyTimeout:  cfg.ReadyTimeout,
		inviteTimeout: cfg.InviteTimeout,
		hub:           cfg.Hub,
		metrics:       cfg.Metrics,
	}
	if l.gate == nil {
		l.gate = NewGate()
	}
	if l.preference == nil {
		l.preference = func() string { return "" }
	}
	if l.readyTimeout <= 0 {
		l.readyTimeout = DefaultReadyTimeout
	}
	if l.inviteTimeout <= 0 {
		l.inviteTimeout = DefaultInviteTimeout
	}
	return l
}

// Active returns the session holding the admission slot, if any.
func (l *Listener) Active() *Session { return l.active.Load() }

// HangupActive hangs up the admitted session. It reports false when there is none.
func (l *Listener) HangupActive() bool {
	s := l.active.Load()
	if s == nil {
		return false
	}
	s.Hangup()
	return true
}

// HandleStream runs one incoming call to completion. It owns s and always
// closes it. Cancelling ctx interrupts the call.
func (l *Listener) HandleStream(ctx context.Context, s Stream, peer string) Outcome {
	sess := newSession(RoleListener, peer, l.hub, l.metrics)
	log.Infow("incoming call stream", sess.kv()...)

	var closeOnce sync.Once
	finish := func() {
		closeOnce.Do(func() {
			if err := s.CloseWrite(); err != nil {
				log.Debugw("close send half", sess.kv("err", err)...)
			}
			_ = s.Close()
		})
	}
	defer finish()

	// A blocked invite read has nothing else to select on.
	stopInterrupt := context.AfterFunc(ctx, finish)
	var timedOut atomic.Bool
	inviteTimer := time.AfterFunc(l.inviteTimeout, func() {
		timedOut.Store(true)
		finish()
	})
	m, err := wire.Read(s)
	inviteTimer.Stop()
	interrupted := !stopInterrupt()
	switch {
	case interrupted:
		return sess.end(ReasonInterrupted, false, nil)
	case timedOut.Load():
		return sess.end(ReasonTimeout, false, fmt.Errorf("no invite within %s", l.inviteTimeout))
	case err != nil:
		var uk *wire.UnknownKindError
		if errors.As(err, &uk) {
			return sess.end(ReasonProtocol, false, fmt.Errorf("read invite: %w", err))
		}
		return sess.end(ReasonDisconnected, false, fmt.Errorf("read invite: %w", err))
	case m.Kind != wire.KindInvite:
		return sess.end(ReasonProtocol, false, fmt.Errorf("%w: %s before invite", ErrUnexpectedMessage, m))
	}
	sess.fire(evInvite)

	if !l.gate.TryAcquire() {
		sess.fire(evReject)
		l.metrics.busy()
		if err := wire.Write(s, wire.Busy); err != nil {
			log.Warnw("write busy", sess.kv("err", err)...)
		}
		finish()
		return sess.end(ReasonBusy, false, nil)
	}
	l.active.Store(sess)
	l.metrics.gate(true)
	defer func() {
		l.active.CompareAndSwap(sess, nil)
		l.metrics.gate(false)
		l.gate.Release()
	}()

	return l.ring(ctx, sess, s, finish)
}

func (l *Listener) ring(ctx context.Context, sess *Session, s Stream, finish func()) Outcome {
	name := l.preference()
	payload, err := l.ringtones.Load(name)
	if err != nil {
		return sess.end(ReasonMedia, false, fmt.Errorf("load ringtone %q: %w", name, err))
	}
	if payload.Fallback() {
		log.Infow("ringing with fallback ringtone", sess.kv("requested", name, "asset", payload.Asset)...)
	}
	sess.setRingtone(payload.Asset)

	pb := l.sink.Play(payload)
	defer awaitStop(sess, pb)
	sess.fire(evRing)

	msgs := make(chan readResult, 1)
	quit := make(chan struct{})
	defer close(quit)
	go readLoop(s, msgs, quit)

	ready := pb.Ready()
	readyTimer := time.NewTimer(l.readyTimeout)
	defer readyTimer.Stop()
	readyTimeout := readyTimer.C

	for {
		select {
		case <-ready:
			ready, readyTimeout = nil, nil
			sess.fire(evAnswer)

		case <-readyTimeout:
			ready, readyTimeout = nil, nil
			log.Warnw("playback start not confirmed, continuing", sess.kv("timeout", l.readyTimeout)...)
			sess.fire(evAnswer)

		case <-pb.Done():
			finish()
			if err := pb.Err(); err != nil {
				return sess.end(ReasonMedia, false, err)
			}
			return sess.end(ReasonMediaFinished, false, nil)

		case r := <-msgs:
			if r.err != nil {
				pb.Stop()
				finish()
				if errors.Is(r.err, io.EOF) {
					return sess.end(ReasonPeerClosed, false, nil)
				}
				var uk *wire.UnknownKindError
				if errors.As(r.err, &uk) {
					return sess.end(ReasonProtocol, false, r.err)
				}
				return sess.end(ReasonDisconnected, false, r.err)
			}
			switch r.msg.Kind {
			case wire.KindVoiceData:
				log.Debugw("voice data skipped", sess.kv("size", r.msg.Size)...)
				continue
			case wire.KindHangup:
				pb.Stop()
				acked := true
				if err := wire.Write(s, wire.HangupAck); err != nil {
					acked = false
					log.Warnw("write hangup ack", sess.kv("err", err)...)
					l.metrics.ack("sent", "failed")
				} else {
					l.metrics.ack("sent", "ok")
				}
				finish()
				return sess.end(ReasonPeerHangup, acked, nil)
			default:
				pb.Stop()
				finish()
				return sess.end(ReasonProtocol, false, fmt.Errorf("%w: %s", ErrUnexpectedMessage, r.msg))
			}

		case <-sess.hangup:
			pb.Stop()
			finish()
			return sess.end(ReasonLocalHangup, false, nil)

		case <-ctx.Done():
			pb.Stop()
			finish()
			return sess.end(ReasonInterrupted, false, nil)
		}
	}
}

// awaitStop stops pb and waits, bounded, for the worker to wind down so the
// device is free before the admission slot is released.
func awaitStop(sess *Session, pb *media.Playback) {
	pb.Stop()
	select {
	case <-pb.Done():
		log.Debugw("playback released", sess.kv("reason", pb.Reason())...)
	case <-time.After(stopWait):
		log.Warnw("playback did not stop in time", sess.kv("waited", stopWait)...)
	}
}
