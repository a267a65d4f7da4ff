package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/multiformats/go-multibase"
)

// Ticket kinds prefix the encoded string so a blob ticket is never
// mistaken for a call ticket.
const (
	KindCall = "call"
	KindBlob = "blob"
)

var ErrBadTicket = errors.New("invalid ticket")

// Ticket is everything a peer needs to reach a provider: its identity,
// its addresses and, for blobs, the content hash and format.
type Ticket struct {
	Kind   string
	Peer   peer.AddrInfo
	Hash   string
	Format string
}

type ticketJSON struct {
	Peer   string   `json:"peer"`
	Addrs  []string `json:"addrs"`
	Hash   string   `json:"hash,omitempty"`
	Format string   `json:"format,omitempty"`
}

// String encodes the ticket as "<kind>:" followed by a base32 multibase
// string of its JSON form.
func (t Ticket) String() string {
	s, err := t.Encode()
	if err != nil {
		return "<invalid ticket>"
	}
	return s
}

func (t Ticket) Encode() (string, error) {
	if t.Kind == "" || t.Peer.ID == "" {
		return "", fmt.Errorf("%w: missing kind or peer", ErrBadTicket)
	}
	j := ticketJSON{
		Peer:   t.Peer.ID.String(),
		Hash:   t.Hash,
		Format: t.Format,
	}
	for _, a := range shareableAddrs(t.Peer.Addrs) {
		j.Addrs = append(j.Addrs, a.String())
	}
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	enc, err := multibase.Encode(multibase.Base32, b)
	if err != nil {
		return "", err
	}
	return t.Kind + ":" + enc, nil
}

// ParseTicket decodes a ticket string and checks it is of the wanted kind.
func ParseTicket(s, kind string) (Ticket, error) {
	s = strings.TrimSpace(s)
	k, enc, ok := strings.Cut(s, ":")
	if !ok || k == "" || enc == "" {
		return Ticket{}, fmt.Errorf("%w: missing kind prefix", ErrBadTicket)
	}
	if kind != "" && k != kind {
		return Ticket{}, fmt.Errorf("%w: got a %s ticket, want %s", ErrBadTicket, k, kind)
	}

	_, b, err := multibase.Decode(enc)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrBadTicket, err)
	}
	var j ticketJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrBadTicket, err)
	}

	pid, err := peer.Decode(j.Peer)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: decode peer ID: %v", ErrBadTicket, err)
	}
	var addrs []ma.Multiaddr
	for _, s := range j.Addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	if len(addrs) == 0 {
		return Ticket{}, fmt.Errorf("%w: no usable addresses", ErrBadTicket)
	}

	return Ticket{
		Kind:   k,
		Peer:   peer.AddrInfo{ID: pid, Addrs: addrs},
		Hash:   j.Hash,
		Format: j.Format,
	}, nil
}

// shareableAddrs drops unspecified and link-local addresses. Loopback stays
// so tickets work between processes on one machine.
func shareableAddrs(in []ma.Multiaddr) []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, a := range in {
		ip, err := manet.ToIP(a)
		if err == nil && (ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// CallTicket returns the ticket a dialer needs to call this node.
func (n *Node) CallTicket() Ticket {
	return Ticket{Kind: KindCall, Peer: n.AddrInfo()}
}
