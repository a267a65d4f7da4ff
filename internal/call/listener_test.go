package call

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petervdpas/radyo/internal/media"
	"github.com/petervdpas/radyo/internal/ringtone"
	"github.com/petervdpas/radyo/internal/ringtone/ringtonetest"
	"github.com/petervdpas/radyo/internal/wire"
)

const testPoll = 10 * time.Millisecond

type recordingSink struct {
	inner media.Sink

	mu    sync.Mutex
	plays []*media.Playback
}

func (r *recordingSink) Play(p *ringtone.Payload) *media.Playback {
	pb := r.inner.Play(p)
	r.mu.Lock()
	r.plays = append(r.plays, pb)
	r.mu.Unlock()
	return pb
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plays)
}

func (r *recordingSink) last() *media.Playback {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.plays) == 0 {
		return nil
	}
	return r.plays[len(r.plays)-1]
}

type testListener struct {
	*Listener
	gate *Gate
	sink *recordingSink
	hub  *Hub
}

func newTestListener(t *testing.T, length time.Duration, mod func(*ListenerConfig)) *testListener {
	t.Helper()
	lib := ringtone.NewLibrary(ringtonetest.FS(map[string]time.Duration{
		"lost_woods": length,
		"zelda":      length,
	}), "lost_woods")
	tl := &testListener{
		gate: NewGate(),
		sink: &recordingSink{inner: &media.TimedSink{PollInterval: testPoll}},
		hub:  NewHub(64),
	}
	cfg := ListenerConfig{
		Gate:         tl.gate,
		Sink:         tl.sink,
		Ringtones:    lib,
		Preference:   func() string { return "zelda" },
		ReadyTimeout: time.Second,
		Hub:          tl.hub,
	}
	if mod != nil {
		mod(&cfg)
	}
	tl.Listener = NewListener(cfg)
	return tl
}

func serve(ctx context.Context, l *Listener, s Stream) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() { ch <- l.HandleStream(ctx, s, "12D3KooWTestPeerListener") }()
	return ch
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return Outcome{}
	}
}

func readMsg(t *testing.T, r io.Reader) (wire.Message, error) {
	t.Helper()
	type res struct {
		m   wire.Message
		err error
	}
	ch := make(chan res, 1)
	go func() {
		m, err := wire.Read(r)
		ch <- res{m, err}
	}()
	select {
	case r := <-ch:
		return r.m, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("read timed out")
		return wire.Message{}, nil
	}
}

func waitActive(t *testing.T, l *testListener) *Session {
	t.Helper()
	require.Eventually(t, func() bool {
		s := l.Active()
		return s != nil && s.State() == StateActive
	}, 2*time.Second, testPoll)
	return l.Active()
}

func TestListenerRingsAndAcksPeerHangup(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	sess := waitActive(t, l)
	require.True(t, l.gate.Occupied())
	require.Equal(t, 1, l.sink.count())
	require.Equal(t, "zelda", sess.Info().Ringtone)

	pb := l.sink.last()
	select {
	case <-pb.Ready():
	default:
		t.Fatal("sink start not observed")
	}

	require.NoError(t, wire.Write(dialer, wire.Hangup))
	stopAt := time.Now()

	m, err := readMsg(t, dialer)
	require.NoError(t, err)
	require.Equal(t, wire.HangupAck, m)
	_, err = readMsg(t, dialer)
	require.ErrorIs(t, err, io.EOF)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonPeerHangup, o.Reason)
	require.True(t, o.Acked)
	require.NoError(t, o.Err)

	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("sink not stopped")
	}
	require.Less(t, time.Since(stopAt), 500*time.Millisecond)
	require.Equal(t, media.ReasonStopped, pb.Reason())

	require.False(t, l.gate.Occupied())
	require.Nil(t, l.Active())
	acq, rel := l.gate.Counts()
	require.Equal(t, int64(1), acq)
	require.Equal(t, acq, rel)

	wclosed, closed := listener.state()
	require.True(t, wclosed)
	require.True(t, closed)
}

func TestListenerBusyWhileRinging(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)

	d1, s1 := newPipe()
	first := serve(context.Background(), l.Listener, s1)
	require.NoError(t, wire.Write(d1, wire.Invite))
	waitActive(t, l)

	d2, s2 := newPipe()
	second := serve(context.Background(), l.Listener, s2)
	require.NoError(t, wire.Write(d2, wire.Invite))

	m, err := readMsg(t, d2)
	require.NoError(t, err)
	require.Equal(t, wire.Busy, m)
	_, err = readMsg(t, d2)
	require.ErrorIs(t, err, io.EOF)

	o := waitOutcome(t, second)
	require.Equal(t, ReasonBusy, o.Reason)
	require.True(t, l.gate.Occupied(), "first session keeps the slot")
	require.Equal(t, 1, l.sink.count(), "rejected session never plays")

	require.True(t, l.HangupActive())
	o = waitOutcome(t, first)
	require.Equal(t, ReasonLocalHangup, o.Reason)
	require.False(t, l.gate.Occupied())
	require.False(t, l.HangupActive())
}

func TestListenerMediaFinished(t *testing.T) {
	l := newTestListener(t, 200*time.Millisecond, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))

	_, err := readMsg(t, dialer)
	require.ErrorIs(t, err, io.EOF, "no hangup or ack after natural end")

	o := waitOutcome(t, done)
	require.Equal(t, ReasonMediaFinished, o.Reason)
	require.False(t, o.Acked)
	require.False(t, l.gate.Occupied())
}

func TestListenerLocalHangupClosesSendHalf(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	sess := waitActive(t, l)
	sess.Hangup()
	sess.Hangup()

	_, err := readMsg(t, dialer)
	require.ErrorIs(t, err, io.EOF)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonLocalHangup, o.Reason)
	require.Equal(t, media.ReasonStopped, l.sink.last().Reason())
}

func TestListenerInterrupt(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	dialer, listener := newPipe()
	done := serve(ctx, l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	waitActive(t, l)
	cancel()

	o := waitOutcome(t, done)
	require.Equal(t, ReasonInterrupted, o.Reason)
	require.False(t, l.gate.Occupied())
}

func TestListenerInterruptBeforeInvite(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	_, listener := newPipe()
	done := serve(ctx, l.Listener, listener)

	cancel()
	o := waitOutcome(t, done)
	require.Equal(t, ReasonInterrupted, o.Reason)
	acq, _ := l.gate.Counts()
	require.Zero(t, acq)
}

func TestListenerRejectsBadFirstMessage(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Hangup))

	o := waitOutcome(t, done)
	require.Equal(t, ReasonProtocol, o.Reason)
	require.ErrorIs(t, o.Err, ErrUnexpectedMessage)
	acq, rel := l.gate.Counts()
	require.Zero(t, acq)
	require.Zero(t, rel)
	require.Zero(t, l.sink.count())
}

func TestListenerUnknownDiscriminator(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	_, err := dialer.Write([]byte{0xFF})
	require.NoError(t, err)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonProtocol, o.Reason)
	var uk *wire.UnknownKindError
	require.True(t, errors.As(o.Err, &uk))
	require.Equal(t, byte(0xFF), uk.Kind)
}

func TestListenerUnknownDiscriminatorWhileRinging(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	waitActive(t, l)
	_, err := dialer.Write([]byte{0x7E})
	require.NoError(t, err)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonProtocol, o.Reason)
	require.False(t, l.gate.Occupied())
}

func TestListenerPeerClosesBeforeInvite(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, dialer.CloseWrite())

	o := waitOutcome(t, done)
	require.Equal(t, ReasonDisconnected, o.Reason)
	require.ErrorIs(t, o.Err, io.EOF)
	require.Zero(t, l.sink.count())
}

func TestListenerPeerClosesWhileRinging(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	waitActive(t, l)
	require.NoError(t, dialer.Close())

	o := waitOutcome(t, done)
	require.Equal(t, ReasonPeerClosed, o.Reason)
	require.False(t, l.gate.Occupied())
}

func TestListenerSkipsVoiceData(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	require.NoError(t, wire.Write(dialer, wire.VoiceData(4)))
	_, err := dialer.Write([]byte{0x02, 0x02, 0x02, 0x02}) // payload bytes look like Hangup
	require.NoError(t, err)
	waitActive(t, l)

	require.NoError(t, wire.Write(dialer, wire.Hangup))
	m, err := readMsg(t, dialer)
	require.NoError(t, err)
	require.Equal(t, wire.HangupAck, m)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonPeerHangup, o.Reason)
}

func TestListenerProceedsWithoutReadyConfirmation(t *testing.T) {
	l := newTestListener(t, time.Minute, func(cfg *ListenerConfig) {
		cfg.Sink = &media.TimedSink{PollInterval: testPoll, ReadyDelay: time.Hour}
		cfg.ReadyTimeout = 50 * time.Millisecond
	})
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	waitActive(t, l)

	require.NoError(t, wire.Write(dialer, wire.Hangup))
	m, err := readMsg(t, dialer)
	require.NoError(t, err)
	require.Equal(t, wire.HangupAck, m)
	require.Equal(t, ReasonPeerHangup, waitOutcome(t, done).Reason)
}

func TestListenerFallsBackToDefaultRingtone(t *testing.T) {
	l := newTestListener(t, time.Minute, func(cfg *ListenerConfig) {
		cfg.Preference = func() string { return "no_such_tone" }
	})
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))
	sess := waitActive(t, l)
	require.Equal(t, "lost_woods", sess.Info().Ringtone)

	sess.Hangup()
	require.Equal(t, "lost_woods", waitOutcome(t, done).Ringtone)
}

func TestListenerMissingFallbackEndsSessionOnly(t *testing.T) {
	l := newTestListener(t, time.Minute, func(cfg *ListenerConfig) {
		cfg.Ringtones = ringtone.NewLibrary(ringtonetest.FS(nil), "lost_woods")
	})
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))

	o := waitOutcome(t, done)
	require.Equal(t, ReasonMedia, o.Reason)
	require.ErrorIs(t, o.Err, ringtone.ErrNotFound)
	require.False(t, l.gate.Occupied())
	acq, rel := l.gate.Counts()
	require.Equal(t, acq, rel)
	require.Zero(t, l.sink.count())
}

func TestListenerSinkFailure(t *testing.T) {
	l := newTestListener(t, time.Minute, func(cfg *ListenerConfig) {
		cfg.Sink = failingSink{}
	})
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	require.NoError(t, wire.Write(dialer, wire.Invite))

	o := waitOutcome(t, done)
	require.Equal(t, ReasonMedia, o.Reason)
	require.ErrorIs(t, o.Err, media.ErrNoPayload)
	require.False(t, l.gate.Occupied())
}

// failingSink drops the payload so every playback fails.
type failingSink struct{}

func (failingSink) Play(*ringtone.Payload) *media.Playback {
	return (&media.TimedSink{}).Play(nil)
}

func TestListenerEvents(t *testing.T) {
	l := newTestListener(t, time.Minute, nil)
	events, cancel := l.hub.Subscribe()
	defer cancel()

	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)
	require.NoError(t, wire.Write(dialer, wire.Invite))
	waitActive(t, l)
	require.NoError(t, wire.Write(dialer, wire.Hangup))
	waitOutcome(t, done)

	var got []State
	var last Event
	for len(got) < 4 {
		select {
		case e := <-events:
			got = append(got, e.State)
			last = e
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", got)
		}
	}
	require.Equal(t, []State{StateInvited, StateRinging, StateActive, StateEnded}, got)
	require.Equal(t, ReasonPeerHangup, last.Reason)
	require.Equal(t, RoleListener, last.Role)
	require.Len(t, l.hub.Recent(), 4)
}

func TestGateBalancedAcrossSessions(t *testing.T) {
	l := newTestListener(t, 100*time.Millisecond, nil)

	scripts := []func(d *pipeEnd){
		func(d *pipeEnd) { _ = wire.Write(d, wire.Invite) },
		func(d *pipeEnd) {
			_ = wire.Write(d, wire.Invite)
			_ = wire.Write(d, wire.Hangup)
		},
		func(d *pipeEnd) {
			_ = wire.Write(d, wire.Invite)
			_ = d.Close()
		},
		func(d *pipeEnd) { _ = wire.Write(d, wire.Busy) },
		func(d *pipeEnd) {
			_ = wire.Write(d, wire.Invite)
			_, _ = d.Write([]byte{0xEE})
		},
	}

	for i := 0; i < 3; i++ {
		for _, script := range scripts {
			d, s := newPipe()
			done := serve(context.Background(), l.Listener, s)
			script(d)
			waitOutcome(t, done)
			acq, rel := l.gate.Counts()
			require.Equal(t, acq, rel)
			require.False(t, l.gate.Occupied())
		}
	}
}

func TestListenerSilentStreamTimesOut(t *testing.T) {
	l := newTestListener(t, time.Minute, func(c *ListenerConfig) {
		c.InviteTimeout = 50 * time.Millisecond
	})
	dialer, listener := newPipe()
	done := serve(context.Background(), l.Listener, listener)

	o := waitOutcome(t, done)
	require.Equal(t, ReasonTimeout, o.Reason)
	require.Error(t, o.Err)
	require.Zero(t, l.sink.count())
	require.False(t, l.gate.Occupied())
	acq, _ := l.gate.Counts()
	require.Zero(t, acq)

	_, err := readMsg(t, dialer)
	require.ErrorIs(t, err, io.EOF)
	_, closed := listener.state()
	require.True(t, closed)
}
