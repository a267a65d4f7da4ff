package routes

import "net/http"

func registerAPILogRoutes(mux *http.ServeMux, d Deps) {
	if d.Logs == nil {
		return
	}
	mux.HandleFunc("/api/logs", d.Logs.ServeLogsJSON)
	mux.HandleFunc("/api/logs/stream", d.Logs.ServeLogsSSE)
}

func registerSelfRoutes(mux *http.ServeMux, d Deps) {
	if d.Self == nil {
		return
	}
	// GET /api/self
	mux.HandleFunc("/api/self", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, d.Self())
	})
}
