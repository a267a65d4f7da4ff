package viewer_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/radyo/internal/blob"
	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/media"
	"github.com/petervdpas/radyo/internal/ringtone"
	"github.com/petervdpas/radyo/internal/ringtone/ringtonetest"
	"github.com/petervdpas/radyo/internal/state"
	"github.com/petervdpas/radyo/internal/viewer"
	"github.com/petervdpas/radyo/internal/viewer/routes"
	"github.com/petervdpas/radyo/internal/wire"
)

type callStatus struct {
	Enabled bool         `json:"enabled"`
	Active  *call.Info   `json:"active"`
	Recent  []call.Event `json:"recent"`
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func post(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

// ringingListener starts a listener on a loopback TCP socket and places one
// call into it. It returns the listener, the dialer's end and the outcome.
func ringingListener(t *testing.T, hub *call.Hub, m *call.Metrics) (*call.Listener, net.Conn, <-chan call.Outcome) {
	t.Helper()

	l := call.NewListener(call.ListenerConfig{
		Sink:       &media.TimedSink{PollInterval: 10 * time.Millisecond},
		Ringtones:  ringtone.NewLibrary(ringtonetest.FS(map[string]time.Duration{"ring": 30 * time.Second}), "ring"),
		Preference: func() string { return "ring" },
		Hub:        hub,
		Metrics:    m,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan call.Outcome, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		out <- l.HandleStream(context.Background(), c.(*net.TCPConn), "viewer-test-peer")
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, wire.Write(conn, wire.Invite))

	require.Eventually(t, func() bool {
		s := l.Active()
		return s != nil && s.State() == call.StateActive
	}, 3*time.Second, 10*time.Millisecond)
	return l, conn, out
}

func TestCallStatusAndHangup(t *testing.T) {
	hub := call.NewHub(32)
	reg := prometheus.NewRegistry()
	l, conn, out := ringingListener(t, hub, call.NewMetrics(reg))

	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{Calls: l, Hub: hub, Metrics: reg}))
	defer srv.Close()

	var st callStatus
	getJSON(t, srv.URL+"/api/call", &st)
	require.True(t, st.Enabled)
	require.NotNil(t, st.Active)
	require.Equal(t, call.RoleListener, st.Active.Role)
	require.Equal(t, call.StateActive, st.Active.State)
	require.Equal(t, "ring", st.Active.Ringtone)
	require.NotEmpty(t, st.Recent)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/call/events"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/api/call/hangup"))

	// The dialer side sees the stream end without a hangup message.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err = wire.Read(conn)
	require.ErrorIs(t, err, io.EOF)

	select {
	case o := <-out:
		require.Equal(t, call.ReasonLocalHangup, o.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var e call.Event
		require.NoError(t, ws.ReadJSON(&e))
		if e.State == call.StateEnded {
			require.Equal(t, call.ReasonLocalHangup, e.Reason)
			break
		}
	}

	require.Eventually(t, func() bool { return l.Active() == nil }, time.Second, 10*time.Millisecond)
	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/api/call/hangup"))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(body), `radyo_call_sessions_total{reason="local-hangup",role="listener"} 1`)
	require.Contains(t, string(body), "radyo_call_gate_held 0")
}

func TestEventReplay(t *testing.T) {
	hub := call.NewHub(32)
	l, _, _ := ringingListener(t, hub, nil)
	defer l.HangupActive()

	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{Calls: l, Hub: hub}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/call/events?replay=1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var seen []call.State
	for len(seen) < 3 {
		var e call.Event
		require.NoError(t, ws.ReadJSON(&e))
		seen = append(seen, e.State)
	}
	require.Equal(t, []call.State{call.StateInvited, call.StateRinging, call.StateActive}, seen)
}

func TestHangupRequiresLoopback(t *testing.T) {
	h := viewer.Handler(viewer.Viewer{Calls: call.NewListener(call.ListenerConfig{})})

	req := httptest.NewRequest(http.MethodPost, "/api/call/hangup", nil)
	req.RemoteAddr = "192.0.2.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/call/hangup", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCallsDisabled(t *testing.T) {
	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{}))
	defer srv.Close()

	var st callStatus
	getJSON(t, srv.URL+"/api/call", &st)
	require.False(t, st.Enabled)
	require.Nil(t, st.Active)
	require.Empty(t, st.Recent)

	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/api/call/hangup"))

	resp, err := http.Get(srv.URL + "/api/call/events")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSelf(t *testing.T) {
	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{
		Self: func() routes.Self { return routes.Self{PeerID: "12D3KooWtest", Ticket: "call:abc"} },
	}))
	defer srv.Close()

	var self routes.Self
	getJSON(t, srv.URL+"/api/self", &self)
	require.Equal(t, "12D3KooWtest", self.PeerID)
	require.Equal(t, "call:abc", self.Ticket)
}

func TestBlobRoutes(t *testing.T) {
	store, err := blob.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	src := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello radyo"), 0o644))
	e, err := store.AddPath(src)
	require.NoError(t, err)

	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{Blobs: store}))
	defer srv.Close()

	var list []blob.Entry
	getJSON(t, srv.URL+"/api/blobs", &list)
	require.Len(t, list, 1)
	require.Equal(t, e.Hash, list[0].Hash)
	require.Equal(t, int64(len("hello radyo")), list[0].Size)

	resp, err := http.Get(srv.URL + "/api/blobs/" + e.Hash.String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello radyo", string(body))
	require.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	resp, err = http.Get(srv.URL + "/api/blobs/nothex")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/blobs/" + blob.Sum([]byte("absent")).String())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- viewer.Serve(ctx, ln, viewer.Viewer{}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/call")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("viewer did not stop")
	}
}

func TestPeers(t *testing.T) {
	tbl := state.NewPeerTable()
	tbl.Upsert("b-peer", []string{"/ip4/192.168.1.5/tcp/4001"})
	tbl.Upsert("a-peer", nil)
	tbl.MarkOffline("a-peer")

	srv := httptest.NewServer(viewer.Handler(viewer.Viewer{Peers: tbl}))
	defer srv.Close()

	var got []struct {
		ID        string   `json:"id"`
		Addrs     []string `json:"addrs"`
		Reachable bool     `json:"reachable"`
	}
	getJSON(t, srv.URL+"/api/peers", &got)
	require.Len(t, got, 2)
	require.Equal(t, "b-peer", got[0].ID)
	require.True(t, got[0].Reachable)
	require.Equal(t, []string{"/ip4/192.168.1.5/tcp/4001"}, got[0].Addrs)
	require.Equal(t, "a-peer", got[1].ID)
	require.False(t, got[1].Reachable)
}
