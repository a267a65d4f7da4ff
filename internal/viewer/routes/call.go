package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/radyo/internal/call"
)

var log = logging.Logger("radyo/viewer")

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const wsWriteWait = 5 * time.Second

type callStatus struct {
	Enabled bool         `json:"enabled"`
	Active  *call.Info   `json:"active"`
	Recent  []call.Event `json:"recent"`
}

func registerCallRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/call: the session currently holding the gate and recent transitions.
	mux.HandleFunc("/api/call", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		st := callStatus{Enabled: d.Calls != nil, Recent: d.Events.Recent()}
		if st.Recent == nil {
			st.Recent = []call.Event{}
		}
		if d.Calls != nil {
			if s := d.Calls.Active(); s != nil {
				info := s.Info()
				st.Active = &info
			}
		}
		writeJSON(w, st)
	})

	// POST /api/call/hangup: local hangup trigger for the ringing call.
	mux.HandleFunc("/api/call/hangup", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if !requireLocal(w, r) {
			return
		}
		if d.Calls == nil || !d.Calls.HangupActive() {
			writeJSONStatus(w, http.StatusNotFound, map[string]string{"status": "no_call"})
			return
		}
		writeJSON(w, map[string]string{"status": "hung_up"})
	})

	if d.Events == nil {
		return
	}

	// GET /api/call/events: websocket feed of session transitions.
	// ?replay=1 sends the remembered events first.
	mux.HandleFunc("/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugw("event feed upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ch, cancel := d.Events.Subscribe()
		defer cancel()

		if r.URL.Query().Get("replay") == "1" {
			for _, e := range d.Events.Recent() {
				if err := writeEvent(conn, e); err != nil {
					return
				}
			}
		}

		// Drain incoming frames so close and ping are processed.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(conn, e); err != nil {
					return
				}
			}
		}
	})
}

func writeEvent(conn *websocket.Conn, e call.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(e)
}
