//go:build cgo

package media

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/go-mp3"

	"github.com/petervdpas/radyo/internal/ringtone"
)

// DeviceSink decodes MP3 payloads and plays them on the default output device.
type DeviceSink struct {
	Volume       float64
	PollInterval time.Duration
}

func (s *DeviceSink) Play(p *ringtone.Payload) *Playback {
	if p == nil {
		pb := newPlayback("")
		pb.finish(ReasonFailed, ErrNoPayload)
		return pb
	}
	pb := newPlayback(p.Asset)
	go s.run(p, pb)
	return pb
}

func (s *DeviceSink) run(p *ringtone.Payload, pb *Playback) {
	dec, err := mp3.NewDecoder(bytes.NewReader(p.Data))
	if err != nil {
		pb.finish(ReasonFailed, fmt.Errorf("decode %s: %w", p.Asset, err))
		return
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debugw("malgo", "msg", msg)
	})
	if err != nil {
		pb.finish(ReasonFailed, fmt.Errorf("audio context: %w", err))
		return
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	// go-mp3 always produces 16-bit little-endian stereo.
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 2
	cfg.SampleRate = uint32(dec.SampleRate())
	cfg.Alsa.NoMMap = 1

	feed := &pcmFeed{r: dec, volume: s.Volume}
	onData := func(out, _ []byte, _ uint32) { feed.fill(out) }

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		pb.finish(ReasonFailed, fmt.Errorf("open output device: %w", err))
		return
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		pb.finish(ReasonFailed, fmt.Errorf("start output device: %w", err))
		return
	}
	pb.markReady()

	reason := pb.wait(s.PollInterval, feed.drained)
	_ = dev.Stop()
	if err := feed.failure(); err != nil && reason == ReasonFinished {
		pb.finish(ReasonFailed, fmt.Errorf("decode %s: %w", p.Asset, err))
		return
	}
	pb.finish(reason, nil)
}
