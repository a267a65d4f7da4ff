package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/proto"
)

// CallHandler runs one incoming call stream to completion.
type CallHandler interface {
	HandleStream(ctx context.Context, s call.Stream, peer string) call.Outcome
}

// EnableCalls accepts call streams and hands each one to h on its own
// goroutine. ctx interrupts every running call when cancelled.
func (n *Node) EnableCalls(ctx context.Context, h CallHandler) {
	n.Host.SetStreamHandler(protocol.ID(proto.CallProtoID), func(s network.Stream) {
		remote := s.Conn().RemotePeer().String()
		log.Debugw("call stream accepted", "peer", remote)
		h.HandleStream(ctx, s, remote)
	})
}

// DisableCalls stops accepting new call streams.
func (n *Node) DisableCalls() {
	n.Host.RemoveStreamHandler(protocol.ID(proto.CallProtoID))
}

// OpenCallStream connects to pi and opens one call stream.
func (n *Node) OpenCallStream(ctx context.Context, pi peer.AddrInfo) (call.Stream, error) {
	return n.openStream(ctx, pi, protocol.ID(proto.CallProtoID))
}

// CallOpener adapts OpenCallStream for call.Dialer.
func (n *Node) CallOpener(pi peer.AddrInfo) call.Opener {
	return func(ctx context.Context) (call.Stream, error) {
		return n.OpenCallStream(ctx, pi)
	}
}
