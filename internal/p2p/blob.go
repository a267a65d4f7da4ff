package p2p

import (
	"context"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/petervdpas/radyo/internal/proto"
	"github.com/petervdpas/radyo/internal/util"
)

// BlobServer answers one blob request per stream.
type BlobServer interface {
	ServeStream(rw io.ReadWriter, peer string) error
}

// EnableBlobs serves blob fetch streams from srv.
func (n *Node) EnableBlobs(srv BlobServer) {
	n.Host.SetStreamHandler(protocol.ID(proto.BlobProtoID), func(s network.Stream) {
		defer s.Close()
		remote := s.Conn().RemotePeer().String()
		_ = s.SetReadDeadline(time.Now().Add(util.DefaultFetchTimeout))
		if err := srv.ServeStream(s, remote); err != nil {
			log.Warnw("blob stream failed", "peer", remote, "err", err)
		}
	})
}

// OpenBlobStream connects to pi and opens one blob fetch stream.
func (n *Node) OpenBlobStream(ctx context.Context, pi peer.AddrInfo) (io.ReadWriteCloser, error) {
	return n.openStream(ctx, pi, protocol.ID(proto.BlobProtoID))
}
