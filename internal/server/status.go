package server

import (
	"net/http"

	"fx-forward-runner/internal/hub"
	"fx-forward-runner/internal/metrics"

	"github.com/gorilla/mux"
)

// StatusFunc snapshots whatever the runner wants to expose on /status.
type StatusFunc func() any

// StatusRouter is the runner's local surface: status snapshot, the websocket
// signal feed, health and metrics.
func StatusRouter(status StatusFunc, h *hub.Hub) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/api/health", HealthHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status())
	}).Methods("GET")
	if h != nil {
		router.HandleFunc("/ws", h.HandleWebSocket)
	}
	return router
}
