package p2p

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/petervdpas/radyo/internal/state"
	"github.com/petervdpas/radyo/internal/util"
)

var log = logging.Logger("radyo/p2p")

func init() {
	// Dial failures and backoff errors from these subsystems go to stderr
	// by default and clutter terminal output.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("mdns", "warn")
	logging.SetLogLevel("autonat", "warn")
}

// Options configures a Node.
type Options struct {
	// ListenPort is the TCP port bound on all interfaces; 0 picks one.
	ListenPort int
	// ListenAddrs overrides ListenPort when set.
	ListenAddrs []string
	// KeyFile holds the persistent identity. Empty means an ephemeral identity.
	KeyFile string
	// MDNS enables LAN discovery under MDNSTag.
	MDNS    bool
	MDNSTag string
	// Peers, when set, records peers found over mDNS.
	Peers *state.PeerTable
}

// Node is a libp2p host serving the call and blob protocols.
type Node struct {
	Host host.Host

	mdns      mdns.Service
	startTime time.Time
}

type mdnsNotifee struct {
	h     host.Host
	peers *state.PeerTable
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debugw("mdns connect failed", "peer", pi.ID, "err", err)
		if n.peers != nil {
			n.peers.MarkOffline(pi.ID.String())
		}
		return
	}
	log.Debugw("mdns peer connected", "peer", pi.ID)
	if n.peers != nil {
		addrs := make([]string, 0, len(pi.Addrs))
		for _, a := range shareableAddrs(pi.Addrs) {
			addrs = append(addrs, a.String())
		}
		n.peers.Upsert(pi.ID.String(), addrs)
	}
}

// loadOrCreateKey loads a persistent identity key from disk,
// or generates a new Ed25519 key and saves it on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, bool, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err == nil {
			return priv, false, nil
		}
		log.Warnw("corrupt identity key, generating new key", "file", keyFile, "err", err)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, false, err
	}

	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal identity key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, false, fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := os.WriteFile(keyFile, raw, 0600); err != nil {
		return nil, false, fmt.Errorf("save identity key: %w", err)
	}

	return priv, true, nil
}

// New starts a host. Failure to bind is the caller's to treat as fatal.
func New(opts Options) (*Node, error) {
	var priv crypto.PrivKey
	if opts.KeyFile != "" {
		k, isNew, err := loadOrCreateKey(opts.KeyFile)
		if err != nil {
			return nil, err
		}
		if isNew {
			log.Infow("generated new identity key", "file", opts.KeyFile)
		} else {
			log.Debugw("loaded identity key", "file", opts.KeyFile)
		}
		priv = k
	} else {
		k, _, err := crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, err
		}
		priv = k
	}

	listen := opts.ListenAddrs
	if len(listen) == 0 {
		listen = []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", opts.ListenPort)}
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listen...),
	)
	if err != nil {
		return nil, fmt.Errorf("start host: %w", err)
	}

	n := &Node{Host: h, startTime: time.Now()}

	if opts.MDNS {
		md := mdns.NewMdnsService(h, opts.MDNSTag, &mdnsNotifee{h: h, peers: opts.Peers})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("start mdns: %w", err)
		}
		n.mdns = md
	}

	log.Infow("node started", "peer", h.ID(), "addrs", h.Addrs())
	return n, nil
}

func (n *Node) Close() error {
	if n.mdns != nil {
		_ = n.mdns.Close()
	}
	return n.Host.Close()
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// AddrInfo returns this node's identity and listen addresses.
func (n *Node) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()}
}

// Uptime reports how long the node has been running.
func (n *Node) Uptime() time.Duration {
	return time.Since(n.startTime)
}

// Connect dials pi, bounded by the default connect timeout.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	ctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
	defer cancel()
	if err := n.Host.Connect(ctx, pi); err != nil {
		return fmt.Errorf("connect %s: %w", pi.ID, err)
	}
	return nil
}

// openStream connects to pi if needed and opens one stream for pid.
func (n *Node) openStream(ctx context.Context, pi peer.AddrInfo, pid protocol.ID) (network.Stream, error) {
	if err := n.Connect(ctx, pi); err != nil {
		return nil, err
	}
	s, err := n.Host.NewStream(ctx, pi.ID, pid)
	if err != nil {
		return nil, fmt.Errorf("open %s stream to %s: %w", pid, pi.ID, err)
	}
	return s, nil
}
