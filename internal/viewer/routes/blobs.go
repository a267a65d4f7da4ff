package routes

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petervdpas/radyo/internal/blob"
)

func registerBlobRoutes(mux *http.ServeMux, d Deps) {
	if d.Blobs == nil {
		return
	}

	// GET /api/blobs
	mux.HandleFunc("/api/blobs", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		entries, err := d.Blobs.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	// GET /api/blobs/<hash>
	mux.HandleFunc("/api/blobs/", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		h, err := blob.ParseHash(strings.TrimPrefix(r.URL.Path, "/api/blobs/"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, e, err := d.Blobs.OpenBlob(h)
		if errors.Is(err, blob.ErrNotFound) {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentTypeForName(e.Name, head[:n]))
		w.Header().Set("ETag", `"`+e.Hash.String()+`"`)
		http.ServeContent(w, r, e.Name, time.Time{}, f)
	})
}
