// Package viewer serves the optional local HTTP surface of a peer: call
// status, a local hangup trigger, a websocket feed of call events, recent
// logs, LAN peers, the blob index and Prometheus metrics.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petervdpas/radyo/internal/blob"
	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/state"
	"github.com/petervdpas/radyo/internal/viewer/routes"
)

var log = logging.Logger("radyo/viewer")

const shutdownTimeout = 3 * time.Second

type Viewer struct {
	Self  func() routes.Self
	Calls routes.Calls
	Hub   *call.Hub
	Blobs *blob.Store
	Peers *state.PeerTable
	Logs  *LogBuffer

	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
}

// Handler returns the viewer's routes.
func Handler(v Viewer) http.Handler {
	deps := routes.Deps{
		Self:   v.Self,
		Calls:  v.Calls,
		Events: v.Hub,
		Blobs:  v.Blobs,
		Peers:  v.Peers,
	}
	// A nil *LogBuffer must stay a nil interface.
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	if v.Metrics != nil {
		deps.Metrics = promhttp.HandlerFor(v.Metrics, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	routes.Register(mux, deps)
	return noCache(mux)
}

// Serve runs the viewer on ln until ctx is done.
func Serve(ctx context.Context, ln net.Listener, v Viewer) error {
	srv := &http.Server{
		Handler:           Handler(v),
		ReadHeaderTimeout: 5 * time.Second,
		// Streaming handlers end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Infow("viewer listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
