package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fx-forward-runner/internal/interfaces"

	"github.com/gorilla/mux"
)

// JobHandler exposes the scheduled job to an external trigger (cron).
type JobHandler struct {
	job interfaces.Job
}

func NewJobHandler(job interfaces.Job) *JobHandler {
	return &JobHandler{job: job}
}

func (h *JobHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/jobs/strategy-runner", h.RunStrategy).Methods("POST")
	router.HandleFunc("/jobs/sessions-runner", h.RunSessions).Methods("POST")
	router.HandleFunc("/jobs/close-position", h.ClosePosition).Methods("POST")
}

func (h *JobHandler) RunStrategy(w http.ResponseWriter, r *http.Request) {
	res, err := h.job.Run(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Strategy check complete.",
		"signal":  res.Signal,
		"result":  res,
	})
}

func (h *JobHandler) RunSessions(w http.ResponseWriter, r *http.Request) {
	results, err := h.job.RunSessions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Sessions run complete.",
		"results": results,
	})
}

type closePositionRequest struct {
	Instrument string `json:"instrument"`
}

// ClosePosition accepts an optional {"instrument"} body; an empty body closes
// the job's default instrument.
func (h *JobHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	res, err := h.job.ClosePosition(r.Context(), req.Instrument)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	message := "Position closed."
	if !res.Closed {
		message = "Position not closed: " + res.SkipReason + "."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    message,
		"instrument": res.Instrument,
		"price":      res.Price,
		"result":     res,
	})
}
