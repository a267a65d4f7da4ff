// Package ringtonetest builds synthetic ringtone assets for tests.
package ringtonetest

import (
	"testing/fstest"
	"time"
)

// frameHeader is an MPEG-1 Layer III, 128 kbps, 44.1 kHz frame header.
var frameHeader = []byte{0xFF, 0xFB, 0x90, 0x00}

// bytesPerSecond matches the 128 kbps header.
const bytesPerSecond = 128000 / 8

// MP3 returns a buffer that probes as a constant bitrate MP3 lasting d.
// Only the first frame header is real; the rest is silence padding.
func MP3(d time.Duration) []byte {
	n := int(d.Seconds() * bytesPerSecond)
	if n < len(frameHeader) {
		n = len(frameHeader)
	}
	b := make([]byte, n)
	copy(b, frameHeader)
	return b
}

// FS returns an in-memory ringtone directory holding one MP3 per entry.
func FS(assets map[string]time.Duration) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, d := range assets {
		fsys[name+".mp3"] = &fstest.MapFile{Data: MP3(d), Mode: 0o644}
	}
	return fsys
}
