// Package app wires config, transport, media and the call state machines
// into the four command entrypoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/radyo/internal/blob"
	"github.com/petervdpas/radyo/internal/call"
	"github.com/petervdpas/radyo/internal/config"
	"github.com/petervdpas/radyo/internal/media"
	"github.com/petervdpas/radyo/internal/p2p"
	"github.com/petervdpas/radyo/internal/ringtone"
)

var log = logging.Logger("radyo/app")

// ErrCallFailed is returned by RunPeer when the call ended on a transport
// or protocol failure rather than a hangup exchange.
var ErrCallFailed = errors.New("call failed")

// drainTimeout bounds how long shutdown waits for a ringing call to wind down.
const drainTimeout = 3 * time.Second

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config

	// Out receives operator-facing lines: tickets and call progress.
	Out io.Writer
	// Ready is called with the printed ticket once the endpoint is serving.
	Ready func(ticket string)
}

func (o Options) ready(ticket string) {
	if o.Ready != nil {
		o.Ready(ticket)
	}
}

// RunCaller accepts calls until ctx is done. A non-empty ringtone is stored
// as the preference first; later edits of the config file apply to the next call.
func RunCaller(ctx context.Context, o Options, ringtoneName string) error {
	logBanner("caller", o.PeerDir, o.CfgPath)

	if ringtoneName != "" {
		cfg, err := config.SetRingtone(o.CfgPath, ringtoneName)
		if err != nil {
			return fmt.Errorf("store ringtone preference: %w", err)
		}
		o.Cfg = cfg
		log.Infow("ringtone preference stored", "ringtone", cfg.Call.Ringtone)
	}

	preference := func() string { return o.Cfg.Call.Ringtone }
	if w, err := config.Watch(o.CfgPath); err != nil {
		log.Warnw("config hot reload unavailable", "err", err)
	} else {
		defer w.Close()
		preference = func() string { return w.Current().Call.Ringtone }
		last := w.Current().Call.Ringtone
		w.OnChange(func(c config.Config) {
			if c.Call.Ringtone == last {
				return
			}
			log.Infow("ringtone preference changed", "from", last, "to", c.Call.Ringtone)
			o.say("ringtone preference changed to %q", c.Call.Ringtone)
			last = c.Call.Ringtone
		})
	}

	rt, err := startRuntime(o, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cc := o.Cfg.Call
	lst := call.NewListener(call.ListenerConfig{
		Gate:         call.NewGate(),
		Sink:         media.New(media.Options{Headless: cc.Headless, Volume: cc.Volume, PollInterval: cc.PollInterval()}),
		Ringtones:    ringtone.Open(o.resolve(cc.RingtoneDir), cc.FallbackRingtone),
		Preference:   preference,
		ReadyTimeout: cc.ReadyTimeout(),
		Hub:          rt.hub,
		Metrics:      rt.metrics,
	})

	rt.node.EnableCalls(ctx, lst)
	defer rt.node.DisableCalls()
	go rt.prunePeers(ctx)

	ticket := rt.node.CallTicket().String()
	if err := rt.startViewer(ctx, ticket, lst, nil); err != nil {
		return err
	}

	o.say("waiting for calls, share this ticket:")
	o.say("%s", ticket)
	o.ready(ticket)

	<-ctx.Done()
	log.Infow("shutting down caller")
	drain(lst)
	return nil
}

// drain waits, bounded, for an interrupted session to release the gate.
func drain(lst *call.Listener) {
	deadline := time.Now().Add(drainTimeout)
	for lst.Active() != nil && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

// RunPeer places one call to the ticket's listener and returns when the
// session ends. Cancelling ctx hangs up.
func RunPeer(ctx context.Context, o Options, ticketStr string) error {
	logBanner("peer", o.PeerDir, o.CfgPath)

	t, err := p2p.ParseTicket(ticketStr, p2p.KindCall)
	if err != nil {
		return err
	}

	rt, err := startRuntime(o, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	vctx, stopViewer := context.WithCancel(context.Background())
	defer stopViewer()
	if err := rt.startViewer(vctx, "", nil, nil); err != nil {
		return err
	}

	d := call.NewDialer(call.DialerConfig{
		AckTimeout:  o.Cfg.Call.AckTimeout(),
		IdleTimeout: o.Cfg.Call.IdleTimeout(),
		Out:         o.Out,
		Hub:         rt.hub,
		Metrics:     rt.metrics,
	})
	sess := d.NewSession(t.Peer.ID.String())
	o.say("calling %s", t.Peer.ID)

	out := d.Call(ctx, sess, rt.node.CallOpener(t.Peer))
	switch out.Reason {
	case call.ReasonTransport, call.ReasonProtocol, call.ReasonDisconnected:
		return fmt.Errorf("%w (%s): %v", ErrCallFailed, out.Reason, out.Err)
	}
	return nil
}

// RunShare adds path to the blob store and serves it until ctx is done.
func RunShare(ctx context.Context, o Options, path string) error {
	logBanner("share", o.PeerDir, o.CfgPath)

	store, err := blob.Open(o.resolve(o.Cfg.Blobs.Dir))
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.AddPath(path)
	if err != nil {
		return err
	}

	rt, err := startRuntime(o, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.node.EnableBlobs(blob.NewProvider(store))
	go rt.prunePeers(ctx)

	ticket := p2p.Ticket{
		Kind:   p2p.KindBlob,
		Peer:   rt.node.AddrInfo(),
		Hash:   e.Hash.String(),
		Format: string(e.Format),
	}.String()
	if err := rt.startViewer(ctx, ticket, nil, store); err != nil {
		return err
	}

	o.say("added %s as %s (%s, %d bytes)", path, e.Hash, e.Format, e.Size)
	o.say("share this ticket:")
	o.say("%s", ticket)
	o.ready(ticket)

	<-ctx.Done()
	log.Infow("shutting down share")
	return nil
}

// RunFetch downloads the ticket's blob into the local store and, when dest
// is set, exports it there.
func RunFetch(ctx context.Context, o Options, ticketStr, dest string) error {
	logBanner("fetch", o.PeerDir, o.CfgPath)

	t, err := p2p.ParseTicket(ticketStr, p2p.KindBlob)
	if err != nil {
		return err
	}
	h, err := blob.ParseHash(t.Hash)
	if err != nil {
		return fmt.Errorf("%w: %v", p2p.ErrBadTicket, err)
	}
	if t.Format != "" && t.Format != string(blob.FormatRaw) {
		return fmt.Errorf("%w: unsupported format %q", p2p.ErrBadTicket, t.Format)
	}

	store, err := blob.Open(o.resolve(o.Cfg.Blobs.Dir))
	if err != nil {
		return err
	}
	defer store.Close()

	rt, err := startRuntime(o, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	open := func(ctx context.Context) (io.ReadWriteCloser, error) {
		return rt.node.OpenBlobStream(ctx, t.Peer)
	}
	e, err := store.Download(ctx, open, h, t.Peer.ID.String())
	if err != nil {
		return err
	}
	o.say("downloaded %s (%d bytes)", e.Hash, e.Size)

	if dest == "" {
		return nil
	}
	p, err := store.Export(h, dest, blob.ExportTryReference)
	if err != nil {
		return err
	}
	o.say("exported to %s", p)
	return nil
}
