package blob

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wire format, one request per stream:
//
//	client: "GET <hex hash>\n"
//	server: "OK <size>\n" followed by exactly size bytes, or "ERR <reason>\n"

const maxLine = 256

// Provider serves stored blobs to peers.
type Provider struct {
	store *Store
}

func NewProvider(s *Store) *Provider { return &Provider{store: s} }

// ServeStream answers one request on rw.
func (p *Provider) ServeStream(rw io.ReadWriter, peer string) error {
	line, err := readLine(bufio.NewReaderSize(rw, maxLine))
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	if !strings.HasPrefix(line, "GET ") {
		_, _ = io.WriteString(rw, "ERR bad request\n")
		return fmt.Errorf("bad request %q", line)
	}

	h, err := ParseHash(strings.TrimSpace(strings.TrimPrefix(line, "GET ")))
	if err != nil {
		_, _ = io.WriteString(rw, "ERR bad hash\n")
		return err
	}

	f, e, err := p.store.OpenBlob(h)
	if err != nil {
		_, _ = io.WriteString(rw, "ERR not found\n")
		log.Debugw("blob request miss", "hash", h.Short(), "peer", peer)
		return nil
	}
	defer f.Close()

	if _, err := fmt.Fprintf(rw, "OK %d\n", e.Size); err != nil {
		return err
	}
	n, err := io.Copy(rw, f)
	if err != nil {
		return fmt.Errorf("send %s: %w", h.Short(), err)
	}
	log.Infow("blob served", "hash", h.Short(), "bytes", n, "peer", peer)
	return nil
}

// Opener opens a fetch stream to a provider.
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

// Download fetches h from the provider behind open unless it is already
// stored. The content is verified against h before it is indexed.
func (s *Store) Download(ctx context.Context, open Opener, h Hash, source string) (Entry, error) {
	if e, err := s.Get(h); err == nil {
		log.Infow("blob already stored", "hash", h.Short())
		return e, nil
	}

	rw, err := open(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer rw.Close()
	stop := context.AfterFunc(ctx, func() { _ = rw.Close() })
	defer stop()

	if _, err := fmt.Fprintf(rw, "GET %s\n", h); err != nil {
		return Entry{}, fmt.Errorf("send request: %w", err)
	}
	if cw, ok := rw.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	br := bufio.NewReader(rw)
	line, err := readLine(br)
	if err != nil {
		return Entry{}, fmt.Errorf("read response: %w", err)
	}
	if reason, ok := strings.CutPrefix(line, "ERR "); ok {
		if reason == "not found" {
			return Entry{}, fmt.Errorf("%w: %s at %s", ErrNotFound, h.Short(), source)
		}
		return Entry{}, fmt.Errorf("provider error: %s", reason)
	}
	sizeStr, ok := strings.CutPrefix(line, "OK ")
	if !ok {
		return Entry{}, fmt.Errorf("unexpected response %q", line)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return Entry{}, fmt.Errorf("bad size in response %q", line)
	}

	e, err := s.ingest(&exactReader{r: br, remaining: size}, "", source, &h)
	if err != nil {
		if ctx.Err() != nil {
			return Entry{}, ctx.Err()
		}
		return Entry{}, err
	}
	log.Infow("blob downloaded", "hash", h.Short(), "size", size, "from", source)
	return e, nil
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	if len(line) > maxLine {
		return "", fmt.Errorf("line too long")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// exactReader yields exactly remaining bytes and reports a short stream as
// io.ErrUnexpectedEOF.
type exactReader struct {
	r         io.Reader
	remaining int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if err == io.EOF && e.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
