package routes

import (
	"net/http"
	"sort"

	"github.com/petervdpas/radyo/internal/state"
)

type peerView struct {
	ID string `json:"id"`
	state.SeenPeer
}

func registerPeerRoutes(mux *http.ServeMux, d Deps) {
	if d.Peers == nil {
		return
	}
	// GET /api/peers: LAN peers seen over mDNS, online first.
	mux.HandleFunc("/api/peers", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		snap := d.Peers.Snapshot()
		out := make([]peerView, 0, len(snap))
		for id, sp := range snap {
			out = append(out, peerView{ID: id, SeenPeer: sp})
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Reachable != out[j].Reachable {
				return out[i].Reachable
			}
			return out[i].ID < out[j].ID
		})
		writeJSON(w, out)
	})
}
