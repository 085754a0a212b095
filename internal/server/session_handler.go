package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/logger"
	"fx-forward-runner/internal/types"

	"github.com/gorilla/mux"
)

// SessionStore is the registry surface the session routes need.
type SessionStore interface {
	interfaces.SessionRegistry
	GetSession(ctx context.Context, sessionID string) (types.TradingSession, error)
	TradeLogs(ctx context.Context, userID string, limit int) ([]types.TradeLog, error)
}

// SessionHandler handles forward testing session requests
type SessionHandler struct {
	store     SessionStore
	publisher interfaces.Publisher
}

func NewSessionHandler(store SessionStore, publisher interfaces.Publisher) *SessionHandler {
	return &SessionHandler{store: store, publisher: publisher}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	router.HandleFunc("/sessions/active", h.GetActiveSessions).Methods("GET")
	router.HandleFunc("/sessions/stop-all", h.StopAllSessions).Methods("POST")
	router.HandleFunc("/sessions/{id}/stop", h.StopSession).Methods("POST")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/logs", h.GetLogs).Methods("GET")
}

// sessionView is the wire form of a session; the API key never leaves the server.
type sessionView struct {
	ID            string              `json:"id"`
	UserID        string              `json:"userId"`
	StrategyID    string              `json:"strategyId"`
	Strategy      types.Strategy      `json:"strategy"`
	Credential    credentialView      `json:"credential"`
	Status        types.SessionStatus `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
	StoppedAt     *time.Time          `json:"stoppedAt,omitempty"`
	LastExecution *time.Time          `json:"lastExecution,omitempty"`
}

type credentialView struct {
	AccountID   string            `json:"accountId"`
	Environment types.Environment `json:"environment"`
}

func toView(s types.TradingSession) sessionView {
	return sessionView{
		ID:            s.ID,
		UserID:        s.UserID,
		StrategyID:    s.StrategyID,
		Strategy:      s.Strategy,
		Credential:    credentialView{AccountID: s.Credential.AccountID, Environment: s.Credential.Environment},
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		StoppedAt:     s.StoppedAt,
		LastExecution: s.LastExecution,
	}
}

type createSessionRequest struct {
	Strategy   types.Strategy   `json:"strategy"`
	Credential types.Credential `json:"credential"`
}

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID := UserIDFromContext(r.Context())

	session, err := h.store.CreateSession(r.Context(), userID, req.Strategy, req.Credential)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info(r.Context(), "Session created", "user_id", userID, "session_id", session.ID, "strategy_id", session.StrategyID, "credential", session.Credential)
	h.publish("session_started", toView(session))

	writeJSON(w, http.StatusCreated, toView(session))
}

func (h *SessionHandler) GetActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.GetActiveSessions(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = toView(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SessionHandler) StopAllSessions(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.store.StopAllSessions(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	logger.Info(r.Context(), "All sessions stopped", "user_id", userID)
	h.publish("sessions_stopped", map[string]string{"userId": userID})
	w.WriteHeader(http.StatusNoContent)
}

// StopSession only stops sessions owned by the caller; others look missing.
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID := UserIDFromContext(r.Context())

	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session.UserID != userID {
		writeError(w, types.ErrSessionNotFound)
		return
	}
	if err := h.store.StopSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	logger.Info(r.Context(), "Session stopped", "user_id", userID, "session_id", id)
	h.publish("session_stopped", map[string]string{"sessionId": id})
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *SessionHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.store.TradeLogs(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *SessionHandler) publish(eventType string, payload any) {
	if h.publisher != nil {
		h.publisher.Publish(eventType, payload)
	}
}
