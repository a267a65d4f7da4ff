package routes

import (
	"net/http"
	"time"

	"github.com/petervdpas/radyo/internal/blob"
	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/state"
)

type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

// Calls is the listener side of the call protocol.
type Calls interface {
	Active() *call.Session
	HangupActive() bool
}

// Self describes the local peer.
type Self struct {
	PeerID string        `json:"peer_id"`
	Addrs  []string      `json:"addrs"`
	Ticket string        `json:"ticket,omitempty"`
	Uptime time.Duration `json:"uptime_ns"`
}

type Deps struct {
	Self    func() Self
	Calls   Calls     // nil when this peer does not accept calls
	Events  *call.Hub // nil disables the event feed
	Blobs   *blob.Store
	Peers   *state.PeerTable
	Logs    Logs
	Metrics http.Handler
}

func Register(mux *http.ServeMux, d Deps) {
	registerAPILogRoutes(mux, d)
	registerSelfRoutes(mux, d)
	registerCallRoutes(mux, d)
	registerBlobRoutes(mux, d)
	registerPeerRoutes(mux, d)

	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics)
	}
}
