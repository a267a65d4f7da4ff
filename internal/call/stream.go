package call

import (
	"fmt"
	"io"

	"github.com/petervdpas/radyo/internal/wire"
)

// Stream is the duplex byte stream a session owns. libp2p's network.Stream
// satisfies it.
type Stream interface {
	io.Reader
	io.Writer
	// CloseWrite finishes the send half; the peer reads EOF.
	CloseWrite() error
	// Close releases both halves and unblocks pending reads.
	Close() error
}

type readResult struct {
	msg wire.Message
	err error
}

// readLoop decodes messages from r until an error, handing each one to out.
// VoiceData payloads are discarded here so the session only sees headers.
func readLoop(r io.Reader, out chan<- readResult, quit <-chan struct{}) {
	for {
		m, err := wire.Read(r)
		if err == nil && m.Kind == wire.KindVoiceData && m.Size > 0 {
			if _, cerr := io.CopyN(io.Discard, r, int64(m.Size)); cerr != nil {
				err = fmt.Errorf("voice data payload: %w", cerr)
			}
		}
		select {
		case out <- readResult{msg: m, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}
