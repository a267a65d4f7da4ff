package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/petervdpas/radyo/internal/blob"
	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/p2p"
	"github.com/petervdpas/radyo/internal/state"
	"github.com/petervdpas/radyo/internal/util"
	"github.com/petervdpas/radyo/internal/viewer"
	"github.com/petervdpas/radyo/internal/viewer/routes"
)

// runtime holds what every entrypoint shares: the node and the
// observability plumbing behind the optional viewer.
type runtime struct {
	opt     Options
	node    *p2p.Node
	reg     *prometheus.Registry
	hub     *call.Hub
	metrics *call.Metrics
	peers   *state.PeerTable // nil unless mDNS is on
}

const (
	peerTTL   = 2 * time.Minute
	peerGrace = 10 * time.Minute
)

// startRuntime starts a node. A persistent node uses the configured identity
// and mDNS; a transient one gets a fresh identity for a single operation.
func startRuntime(o Options, persistent bool) (*runtime, error) {
	popts := p2p.Options{ListenPort: o.Cfg.P2P.ListenPort}
	if persistent {
		popts.KeyFile = o.resolve(o.Cfg.Identity.KeyFile)
		popts.MDNS = o.Cfg.P2P.MDNS
		popts.MDNSTag = o.Cfg.P2P.MdnsTag
		if popts.MDNS {
			popts.Peers = state.NewPeerTable()
		}
	} else {
		popts.ListenPort = 0
	}

	node, err := p2p.New(popts)
	if err != nil {
		return nil, fmt.Errorf("start p2p node: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	return &runtime{
		opt:     o,
		node:    node,
		reg:     reg,
		hub:     call.NewHub(200),
		metrics: call.NewMetrics(reg),
		peers:   popts.Peers,
	}, nil
}

// prunePeers ages out LAN peers that stopped announcing themselves.
func (rt *runtime) prunePeers(ctx context.Context) {
	if rt.peers == nil {
		return
	}
	t := time.NewTicker(peerTTL / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			rt.peers.PruneStale(now.Add(-peerTTL), now.Add(-peerGrace))
		}
	}
}

func (rt *runtime) Close() error { return rt.node.Close() }

func (rt *runtime) self(ticket string) func() routes.Self {
	return func() routes.Self {
		s := routes.Self{PeerID: rt.node.ID(), Ticket: ticket, Uptime: rt.node.Uptime()}
		for _, a := range rt.node.Host.Addrs() {
			s.Addrs = append(s.Addrs, a.String())
		}
		return s
	}
}

// startViewer serves the local HTTP surface when configured. It returns
// once the address is bound; serving stops with ctx.
func (rt *runtime) startViewer(ctx context.Context, ticket string, calls routes.Calls, blobs *blob.Store) error {
	if rt.opt.Cfg.Viewer.HTTPAddr == "" {
		return nil
	}
	addr, url := NormalizeLocalViewer(rt.opt.Cfg.Viewer.HTTPAddr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind viewer: %w", err)
	}

	logs := viewer.NewLogBuffer(800)
	stop := logs.Capture()

	v := viewer.Viewer{
		Self:    rt.self(ticket),
		Calls:   calls,
		Hub:     rt.hub,
		Blobs:   blobs,
		Peers:   rt.peers,
		Logs:    logs,
		Metrics: rt.reg,
	}
	go func() {
		defer stop()
		if err := viewer.Serve(ctx, ln, v); err != nil {
			log.Errorw("viewer stopped", "addr", addr, "err", err)
		}
	}()
	rt.opt.say("viewer: %s", url)
	return nil
}

func (o Options) resolve(p string) string { return util.ResolvePath(o.PeerDir, p) }

func (o Options) say(format string, args ...any) {
	if o.Out == nil {
		return
	}
	fmt.Fprintf(o.Out, format+"\n", args...)
}
