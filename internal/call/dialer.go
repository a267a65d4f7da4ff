package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/petervdpas/radyo/internal/wire"
)

// Opener opens the call stream to the listener.
type Opener func(ctx context.Context) (Stream, error)

// DialerConfig wires a Dialer.
type DialerConfig struct {
	AckTimeout  time.Duration
	IdleTimeout time.Duration
	// Out receives operator-facing progress lines. Nil discards them.
	Out     io.Writer
	Hub     *Hub
	Metrics *Metrics
}

// Dialer places outgoing calls. It never touches an admission gate.
type Dialer struct {
	ackTimeout  time.Duration
	idleTimeout time.Duration
	out         io.Writer
	hub         *Hub
	metrics     *Metrics
}

func NewDialer(cfg DialerConfig) *Dialer {
	d := &Dialer{
		ackTimeout:  cfg.AckTimeout,
		idleTimeout: cfg.IdleTimeout,
		out:         cfg.Out,
		hub:         cfg.Hub,
		metrics:     cfg.Metrics,
	}
	if d.ackTimeout <= 0 {
		d.ackTimeout = DefaultAckTimeout
	}
	if d.idleTimeout <= 0 {
		d.idleTimeout = DefaultIdleTimeout
	}
	if d.out == nil {
		d.out = io.Discard
	}
	return d
}

// NewSession prepares a dialer session so the caller can hang it up while
// Call is running.
func (d *Dialer) NewSession(peer string) *Session {
	return newSession(RoleDialer, peer, d.hub, d.metrics)
}

// Call opens the stream, sends the invite and waits for the call to end.
// Cancelling ctx hangs up; the hangup exchange itself is bounded by the
// ack timeout, not by ctx.
func (d *Dialer) Call(ctx context.Context, sess *Session, open Opener) Outcome {
	sess.fire(evDial)

	s, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return sess.end(ReasonInterrupted, false, nil)
		}
		d.say("could not reach peer: %v", err)
		return sess.end(ReasonTransport, false, fmt.Errorf("open call stream: %w", err))
	}

	var wclosed sync.Once
	closeWrite := func() {
		wclosed.Do(func() {
			if err := s.CloseWrite(); err != nil {
				log.Debugw("close send half", sess.kv("err", err)...)
			}
		})
	}
	defer func() {
		closeWrite()
		_ = s.Close()
	}()

	if err := wire.Write(s, wire.Invite); err != nil {
		d.say("invite failed: %v", err)
		return sess.end(ReasonTransport, false, fmt.Errorf("write invite: %w", err))
	}
	sess.fire(evSend)
	d.say("invite sent")

	msgs := make(chan readResult, 1)
	quit := make(chan struct{})
	defer close(quit)
	go readLoop(s, msgs, quit)

	idle := time.NewTimer(d.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case r := <-msgs:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					d.say("call ended by peer")
					return sess.end(ReasonPeerClosed, false, nil)
				}
				d.say("connection lost: %v", r.err)
				var uk *wire.UnknownKindError
				if errors.As(r.err, &uk) {
					return sess.end(ReasonProtocol, false, r.err)
				}
				return sess.end(ReasonDisconnected, false, r.err)
			}
			switch r.msg.Kind {
			case wire.KindBusy:
				d.say("peer is busy")
				return sess.end(ReasonBusy, false, nil)
			case wire.KindHangup:
				acked := true
				if err := wire.Write(s, wire.HangupAck); err != nil {
					acked = false
					log.Warnw("write hangup ack", sess.kv("err", err)...)
					d.metrics.ack("sent", "failed")
				} else {
					d.metrics.ack("sent", "ok")
				}
				d.say("peer hung up")
				return sess.end(ReasonPeerHangup, acked, nil)
			case wire.KindVoiceData:
				idle.Reset(d.idleTimeout)
			default:
				d.say("unexpected %s from peer", r.msg)
				return sess.end(ReasonProtocol, false, fmt.Errorf("%w: %s", ErrUnexpectedMessage, r.msg))
			}

		case <-idle.C:
			d.say("no activity for %s, hanging up", d.idleTimeout)
			return d.hangup(sess, s, msgs, closeWrite, ReasonTimeout)

		case <-sess.hangup:
			return d.hangup(sess, s, msgs, closeWrite, ReasonLocalHangup)

		case <-ctx.Done():
			return d.hangup(sess, s, msgs, closeWrite, ReasonInterrupted)
		}
	}
}

// hangup sends Hangup, finishes the send half and waits up to the ack
// timeout for HangupAck. The session ends with reason whatever the answer.
func (d *Dialer) hangup(sess *Session, s Stream, msgs <-chan readResult, closeWrite func(), reason EndReason) Outcome {
	if err := wire.Write(s, wire.Hangup); err != nil {
		d.say("hangup not sent: %v", err)
		d.metrics.ack("received", "unsent")
		return sess.end(reason, false, nil)
	}
	closeWrite()
	d.say("hangup sent, waiting for acknowledgment")

	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()

	for {
		select {
		case r := <-msgs:
			if r.err != nil {
				d.say("no hangup acknowledgment: %v", r.err)
				d.metrics.ack("received", "closed")
				return sess.end(reason, false, nil)
			}
			switch r.msg.Kind {
			case wire.KindHangupAck:
				d.say("hangup acknowledged")
				d.metrics.ack("received", "ok")
				return sess.end(reason, true, nil)
			case wire.KindVoiceData:
				continue
			default:
				d.say("expected hangup acknowledgment, got %s", r.msg)
				d.metrics.ack("received", "unexpected")
				return sess.end(reason, false, nil)
			}

		case <-timer.C:
			d.say("no hangup acknowledgment within %s", d.ackTimeout)
			d.metrics.ack("received", "timeout")
			return sess.end(reason, false, nil)
		}
	}
}

func (d *Dialer) say(format string, args ...any) {
	fmt.Fprintf(d.out, format+"\n", args...)
}
