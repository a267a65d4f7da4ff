package media

import (
	"time"

	"github.com/petervdpas/radyo/internal/ringtone"
)

// TimedSink plays nothing. It reports ready at once and finishes after the
// payload's probed duration, which is enough for headless nodes and tests.
type TimedSink struct {
	PollInterval time.Duration
	// ReadyDelay postpones the ready notification.
	ReadyDelay time.Duration
}

func (s *TimedSink) Play(p *ringtone.Payload) *Playback {
	if p == nil {
		pb := newPlayback("")
		pb.finish(ReasonFailed, ErrNoPayload)
		return pb
	}
	pb := newPlayback(p.Asset)

	var length time.Duration
	if p.Info != nil {
		length = p.Info.Duration
	} else if info, err := ringtone.Probe(p.Data); err == nil {
		length = info.Duration
	}

	go func() {
		if s.ReadyDelay > 0 {
			r := pb.wait(s.PollInterval, deadline(s.ReadyDelay))
			if r == ReasonStopped {
				pb.finish(r, nil)
				return
			}
		}
		pb.markReady()
		pb.finish(pb.wait(s.PollInterval, deadline(length)), nil)
	}()
	return pb
}

func deadline(d time.Duration) func() bool {
	end := time.Now().Add(d)
	return func() bool { return !time.Now().Before(end) }
}
