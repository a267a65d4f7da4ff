//go:build !cgo

package media

import (
	"time"

	"github.com/petervdpas/radyo/internal/ringtone"
)

// DeviceSink is unavailable without cgo; every playback fails with ErrNoDevice.
type DeviceSink struct {
	Volume       float64
	PollInterval time.Duration
}

func (s *DeviceSink) Play(p *ringtone.Payload) *Playback {
	asset := ""
	if p != nil {
		asset = p.Asset
	}
	pb := newPlayback(asset)
	pb.finish(ReasonFailed, ErrNoDevice)
	return pb
}
