package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"fx-forward-runner/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrActiveSessionExists):
		status = http.StatusConflict
	case errors.Is(err, types.ErrSessionNotFound):
		status = http.StatusNotFound
	}
	writeJSONError(w, status, err.Error())
}

// HealthHandler responds to health check requests
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": "1.0.0",
	})
}
