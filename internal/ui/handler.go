package ui

import (
	"encoding/json"
	"net/http"
)

// Handler serves the current [Snapshot] as JSON.
func Handler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(store.Snapshot()); err != nil {
			http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		}
	})
}

// Register adds the GET /state route to mux.
func Register(mux *http.ServeMux, store *Store) {
	mux.Handle("/state", Handler(store))
}
