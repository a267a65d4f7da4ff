package media

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// scaleS16 scales interleaved signed 16-bit little-endian samples in place.
func scaleS16(buf []byte, volume float64) {
	if volume >= 1 {
		return
	}
	if volume < 0 {
		volume = 0
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(float64(s)*volume)))
	}
}

// pcmFeed fills device buffers from a decoded S16 stream. It latches the
// first read error; end of stream is drained, anything else is a failure.
type pcmFeed struct {
	r      io.Reader
	volume float64

	mu   sync.Mutex
	done bool
	err  error
}

func (f *pcmFeed) fill(out []byte) {
	f.mu.Lock()
	finished := f.done
	f.mu.Unlock()
	if finished {
		clear(out)
		return
	}

	n, err := io.ReadFull(f.r, out)
	scaleS16(out[:n], f.volume)
	clear(out[n:])
	if err == nil {
		return
	}

	f.mu.Lock()
	f.done = true
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.err = err
	}
	f.mu.Unlock()
}

func (f *pcmFeed) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *pcmFeed) failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
