package viewer

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/radyo/internal/util"
)

type LogEntry struct {
	TS     time.Time      `json:"ts"`
	Level  string         `json:"level,omitempty"`
	Logger string         `json:"logger,omitempty"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// LogBuffer keeps recent log lines for /api/logs. It accepts go-log JSON
// lines as well as plain text.
type LogBuffer struct {
	mu      sync.Mutex
	entries *util.Recent[LogEntry]

	subs map[chan LogEntry]struct{}

	partial bytes.Buffer
}

func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 500
	}
	return &LogBuffer{
		entries: util.NewRecent[LogEntry](max),
		subs:    make(map[chan LogEntry]struct{}),
	}
}

// Capture mirrors every go-log record into the buffer until stop is called.
func (b *LogBuffer) Capture() (stop func()) {
	pr := logging.NewPipeReader(logging.PipeFormat(logging.JSONOutput))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = io.Copy(b, pr)
	}()
	return func() {
		_ = pr.Close()
		<-done
	}
}

// Write implements io.Writer; every complete line becomes one entry.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)

	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}

		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)

		if strings.TrimSpace(line) == "" {
			continue
		}

		e := parseLine(line)
		b.entries.Add(e)
		for ch := range b.subs {
			select {
			case ch <- e:
			default:
			}
		}
	}

	return len(p), nil
}

const isoTime = "2006-01-02T15:04:05.000Z0700"

func parseLine(line string) LogEntry {
	var rec map[string]any
	if !strings.HasPrefix(line, "{") || json.Unmarshal([]byte(line), &rec) != nil {
		return LogEntry{TS: time.Now(), Msg: line}
	}

	e := LogEntry{TS: time.Now()}
	if ts, ok := rec["ts"].(string); ok {
		if t, err := time.Parse(isoTime, ts); err == nil {
			e.TS = t
		}
	}
	e.Level, _ = rec["level"].(string)
	e.Logger, _ = rec["logger"].(string)
	e.Msg, _ = rec["msg"].(string)

	for _, k := range []string{"ts", "level", "logger", "msg", "caller"} {
		delete(rec, k)
	}
	if len(rec) > 0 {
		e.Fields = rec
	}
	return e
}

func (b *LogBuffer) Subscribe() (ch chan LogEntry, cancel func()) {
	ch = make(chan LogEntry, 64)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// GET /api/logs[?logger=radyo/call][&limit=50]
func (b *LogBuffer) ServeLogsJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var entries []LogEntry
	if want := q.Get("logger"); want != "" {
		for _, e := range b.entries.Tail(0) {
			if e.Logger == want {
				entries = append(entries, e)
			}
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
	} else {
		entries = b.entries.Tail(limit)
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(entries)
}

// GET /api/logs/stream (Server-Sent Events), tail only.
func (b *LogBuffer) ServeLogsSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := b.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, _ := json.Marshal(e)
			_, _ = w.Write([]byte("event: log\ndata: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}
}
