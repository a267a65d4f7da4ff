// Package media plays ringtone payloads off the session goroutine.
//
// A sink runs each payload on its own worker and talks to the caller only
// through a Playback: a one-shot ready notification, a pollable stop flag
// and a completion notification carrying the terminal error, if any.
package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/radyo/internal/ringtone"
)

var log = logging.Logger("radyo/media")

// DefaultPollInterval bounds how long a worker takes to notice Stop.
const DefaultPollInterval = 100 * time.Millisecond

var (
	ErrNoPayload = errors.New("media: no payload")
	ErrNoDevice  = errors.New("media: audio output not available in this build")
)

// Sink starts playback of a payload. Play never blocks on the device; any
// failure to open the device or decode the payload is reported through
// Playback.Err once Done is closed.
type Sink interface {
	Play(p *ringtone.Payload) *Playback
}

// StopReason describes how a playback ended.
type StopReason string

const (
	ReasonFinished StopReason = "finished"
	ReasonStopped  StopReason = "stopped"
	ReasonFailed   StopReason = "failed"
)

// Playback is the handle for one running payload.
type Playback struct {
	asset   string
	started time.Time

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	stop atomic.Bool

	// written before done is closed
	err    error
	reason StopReason
}

func newPlayback(asset string) *Playback {
	return &Playback{
		asset:   asset,
		started: time.Now(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Ready is closed once audible output has started.
func (p *Playback) Ready() <-chan struct{} { return p.ready }

// Done is closed when playback ends, naturally, on Stop or on failure.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err returns the playback failure. Only valid after Done is closed.
func (p *Playback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Reason reports how playback ended. Empty until Done is closed.
func (p *Playback) Reason() StopReason {
	select {
	case <-p.done:
		return p.reason
	default:
		return ""
	}
}

// Stop requests the worker to stop. Safe to call any number of times,
// including after playback has finished.
func (p *Playback) Stop() { p.stop.Store(true) }

func (p *Playback) stopRequested() bool { return p.stop.Load() }

func (p *Playback) markReady() {
	p.readyOnce.Do(func() {
		close(p.ready)
		log.Debugw("playback ready", "asset", p.asset, "latency", time.Since(p.started))
	})
}

func (p *Playback) finish(reason StopReason, err error) {
	p.doneOnce.Do(func() {
		p.err = err
		p.reason = reason
		close(p.done)
		if err != nil {
			log.Warnw("playback failed", "asset", p.asset, "err", err)
			return
		}
		log.Debugw("playback ended", "asset", p.asset, "reason", reason, "elapsed", time.Since(p.started))
	})
}

// wait polls the stop flag every interval until either Stop is requested or
// until reports true. It returns the resulting stop reason.
func (p *Playback) wait(interval time.Duration, until func() bool) StopReason {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if p.stopRequested() {
			return ReasonStopped
		}
		if until() {
			return ReasonFinished
		}
		<-t.C
	}
}

// Options configures New.
type Options struct {
	Headless     bool
	Volume       float64
	PollInterval time.Duration
}

// New returns the device sink, or a timed sink when headless is set.
func New(o Options) Sink {
	if o.Headless {
		return &TimedSink{PollInterval: o.PollInterval}
	}
	return &DeviceSink{Volume: o.Volume, PollInterval: o.PollInterval}
}
