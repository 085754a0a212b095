package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"fx-forward-runner/internal/api"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/types"
)

// Remote talks to the registry server over HTTP. The server derives the user
// from the bearer token, so the userID arguments are informational only.
type Remote struct {
	client *api.Client
}

var _ interfaces.SessionRegistry = (*Remote)(nil)

func NewRemote(baseURL, token string, timeout time.Duration, opts ...api.ClientOption) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	copts := []api.ClientOption{
		api.WithBaseURL(baseURL),
		api.WithTimeout(timeout),
		api.WithLogging(true),
	}
	if token != "" {
		copts = append(copts, api.WithBearerToken(token))
	}
	return &Remote{client: api.NewClient(append(copts, opts...)...)}
}

type createSessionRequest struct {
	Strategy   types.Strategy   `json:"strategy"`
	Credential types.Credential `json:"credential"`
}

func (r *Remote) CreateSession(ctx context.Context, userID string, strategy types.Strategy, cred types.Credential) (types.TradingSession, error) {
	resp, err := r.client.POST(ctx, "/api/sessions", createSessionRequest{Strategy: strategy, Credential: cred})
	if err != nil {
		return types.TradingSession{}, remoteErr("create session", err)
	}
	var s types.TradingSession
	if err := resp.ParseJSON(&s); err != nil {
		return types.TradingSession{}, registryErr("create session", err)
	}
	return s, nil
}

func (r *Remote) GetActiveSessions(ctx context.Context, userID string) ([]types.TradingSession, error) {
	resp, err := r.client.GET(ctx, "/api/sessions/active")
	if err != nil {
		return nil, remoteErr("get active sessions", err)
	}
	var sessions []types.TradingSession
	if err := resp.ParseJSON(&sessions); err != nil {
		return nil, registryErr("get active sessions", err)
	}
	return sessions, nil
}

func (r *Remote) StopAllSessions(ctx context.Context, userID string) error {
	if _, err := r.client.POST(ctx, "/api/sessions/stop-all", nil); err != nil {
		return remoteErr("stop all sessions", err)
	}
	return nil
}

func (r *Remote) StopSession(ctx context.Context, sessionID string) error {
	if _, err := r.client.POST(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/stop", nil); err != nil {
		return remoteErr("stop session", err)
	}
	return nil
}

func (r *Remote) Stats(ctx context.Context, userID string) (types.TradingStats, error) {
	var st types.TradingStats
	resp, err := r.client.GET(ctx, "/api/stats")
	if err != nil {
		return st, remoteErr("stats", err)
	}
	if err := resp.ParseJSON(&st); err != nil {
		return st, registryErr("stats", err)
	}
	return st, nil
}

// remoteErr maps server answers back onto the registry sentinels.
func remoteErr(op string, err error) error {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusConflict:
			return types.ErrActiveSessionExists
		case http.StatusNotFound:
			return types.ErrSessionNotFound
		case http.StatusBadRequest:
			return types.ConfigErrorf("%s", httpErr.Message())
		}
		return fmt.Errorf("%w: %s: %v", types.ErrRegistry, op, err)
	}
	return registryErr(op, err)
}
