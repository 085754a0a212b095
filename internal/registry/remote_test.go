package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"fx-forward-runner/internal/types"
)

func TestRemoteCreateSession(t *testing.T) {
	var gotAuth string
	var gotBody createSessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sessions" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.TradingSession{ID: "s-1", StrategyID: gotBody.Strategy.ID, Status: types.SessionActive})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "tok", 0)
	s, err := r.CreateSession(context.Background(), "user-1", strategyA, testCred)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.ID != "s-1" || s.StrategyID != "A" {
		t.Errorf("Unexpected session %+v", s)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Expected bearer token, got %q", gotAuth)
	}
	if gotBody.Credential.AccountID != "1234" {
		t.Errorf("Expected credential in body, got %+v", gotBody.Credential.AccountID)
	}
}

func TestRemoteErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, types.ErrActiveSessionExists},
		{http.StatusNotFound, types.ErrSessionNotFound},
		{http.StatusBadRequest, types.ErrConfiguration},
		{http.StatusInternalServerError, types.ErrRegistry},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		err := NewRemote(srv.URL, "", 0).StopSession(context.Background(), "s-1")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		srv.Close()
	}
}

func TestRemoteNetworkFailureIsRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewRemote(base, "", 0).GetActiveSessions(context.Background(), "user-1")
	if !errors.Is(err, types.ErrRegistry) {
		t.Errorf("Expected ErrRegistry, got %v", err)
	}
}

func TestRemoteActiveAndStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions/active", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"s-1","strategyId":"A","status":"ACTIVE"},{"id":"s-2","strategyId":"B","status":"ACTIVE"}]`))
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalSessions":3,"activeSessions":2,"totalTrades":5,"buyTrades":4,"sellTrades":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewRemote(srv.URL, "", 0)
	active, err := r.GetActiveSessions(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[1].StrategyID != "B" {
		t.Errorf("Unexpected sessions %+v", active)
	}
	st, err := r.Stats(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalSessions != 3 || st.BuyTrades != 4 {
		t.Errorf("Unexpected stats %+v", st)
	}
}
