package call

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var errPipeClosed = errors.New("pipe closed")

// halfPipe is one direction of an in-memory stream with an unbounded buffer.
type halfPipe struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     bytes.Buffer
	wclosed bool // writer finished
	rclosed bool // reader gone
}

func newHalfPipe() *halfPipe {
	h := &halfPipe{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *halfPipe) read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.buf.Len() == 0 && !h.wclosed && !h.rclosed {
		h.cond.Wait()
	}
	if h.rclosed {
		return 0, errPipeClosed
	}
	if h.buf.Len() == 0 {
		return 0, io.EOF
	}
	return h.buf.Read(p)
}

func (h *halfPipe) write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wclosed || h.rclosed {
		return 0, errPipeClosed
	}
	h.buf.Write(p)
	h.cond.Broadcast()
	return len(p), nil
}

func (h *halfPipe) closeWrite() {
	h.mu.Lock()
	h.wclosed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (h *halfPipe) closeRead() {
	h.mu.Lock()
	h.rclosed = true
	h.cond.Broadcast()
	h.mu.Unlock()
}

// pipeEnd is one side of a buffered duplex stream that supports half-close.
type pipeEnd struct {
	in, out *halfPipe

	mu          sync.Mutex
	writeClosed bool
	closed      bool
}

func newPipe() (a, b *pipeEnd) {
	ab, ba := newHalfPipe(), newHalfPipe()
	return &pipeEnd{in: ba, out: ab}, &pipeEnd{in: ab, out: ba}
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.in.read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.out.write(b) }

func (p *pipeEnd) CloseWrite() error {
	p.mu.Lock()
	p.writeClosed = true
	p.mu.Unlock()
	p.out.closeWrite()
	return nil
}

func (p *pipeEnd) Close() error {
	p.mu.Lock()
	p.writeClosed = true
	p.closed = true
	p.mu.Unlock()
	p.out.closeWrite()
	p.in.closeRead()
	return nil
}

func (p *pipeEnd) state() (writeClosed, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeClosed, p.closed
}
