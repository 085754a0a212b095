package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fx-forward-runner/internal/registry"
	"fx-forward-runner/internal/types"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	secret  = []byte("test-secret")
	cred    = types.Credential{AccountID: "1234", APIKey: "super-secret-key", Environment: types.EnvPractice}
	stratA  = types.Strategy{ID: "A", Code: "sma_crossover", Symbol: "EUR_USD", Timeframe: "1m"}
	trigger = "trigger-secret"
)

type fakeJob struct {
	result  *types.JobResult
	err     error
	results []types.SessionRunResult
	closed  *types.CloseResult
	runs    int
	closeOn string
}

func (f *fakeJob) Run(ctx context.Context) (*types.JobResult, error) {
	f.runs++
	return f.result, f.err
}

func (f *fakeJob) RunSessions(ctx context.Context) ([]types.SessionRunResult, error) {
	return f.results, f.err
}

func (f *fakeJob) ClosePosition(ctx context.Context, instrument string) (*types.CloseResult, error) {
	f.closeOn = instrument
	return f.closed, f.err
}

func setupServer(t *testing.T, job *fakeJob) (*httptest.Server, *registry.GormRegistry) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := registry.Migrate(db, true); err != nil {
		t.Fatal(err)
	}
	reg := registry.NewGormRegistry(db, registry.Options{EnforceSingleActive: true})

	deps := Deps{Store: reg, JWTSecret: secret, TriggerSecret: trigger}
	if job != nil {
		deps.Job = job
	}
	srv := httptest.NewServer(SetupRouter(deps))
	t.Cleanup(srv.Close)
	return srv, reg
}

func do(t *testing.T, method, url, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	if user != "" {
		tok, err := IssueToken(secret, user, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t, nil)
	resp := do(t, "GET", srv.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestSessionRoutesRequireAuth(t *testing.T) {
	srv, _ := setupServer(t, nil)
	resp := do(t, "GET", srv.URL+"/api/sessions/active", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/sessions/active", nil)
	bad, _ := IssueToken([]byte("other"), "user-1", time.Hour)
	req.Header.Set("Authorization", "Bearer "+bad)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for a foreign signature, got %d", res.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := setupServer(t, nil)

	resp := do(t, "POST", srv.URL+"/api/sessions", "user-1", map[string]any{"strategy": stratA, "credential": cred})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var raw bytes.Buffer
	raw.ReadFrom(resp.Body)
	if strings.Contains(raw.String(), cred.APIKey) {
		t.Error("Expected the API key to be redacted from the response")
	}
	var created types.TradingSession
	json.Unmarshal(raw.Bytes(), &created)
	if created.UserID != "user-1" || created.StrategyID != "A" {
		t.Errorf("Unexpected session %+v", created)
	}

	resp = do(t, "POST", srv.URL+"/api/sessions", "user-1", map[string]any{"strategy": stratA, "credential": cred})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for a second active session, got %d", resp.StatusCode)
	}

	resp = do(t, "POST", srv.URL+"/api/sessions/"+created.ID+"/stop", "user-2", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 when stopping another user's session, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", srv.URL+"/api/sessions/active", "user-1", nil)
	var active []types.TradingSession
	json.NewDecoder(resp.Body).Decode(&active)
	if len(active) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(active))
	}

	resp = do(t, "POST", srv.URL+"/api/sessions/stop-all", "user-1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}
	resp = do(t, "GET", srv.URL+"/api/sessions/active", "user-1", nil)
	active = nil
	json.NewDecoder(resp.Body).Decode(&active)
	if len(active) != 0 {
		t.Errorf("Expected no active sessions after stop-all, got %d", len(active))
	}

	resp = do(t, "GET", srv.URL+"/api/stats", "user-1", nil)
	var st types.TradingStats
	json.NewDecoder(resp.Body).Decode(&st)
	if st.TotalSessions != 1 || st.ActiveSessions != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	srv, _ := setupServer(t, nil)
	resp := do(t, "POST", srv.URL+"/api/sessions", "user-1", map[string]any{"strategy": stratA})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without credential, got %d", resp.StatusCode)
	}
	resp = do(t, "POST", srv.URL+"/api/sessions/missing/stop", "user-1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing session, got %d", resp.StatusCode)
	}
}

func triggerJob(t *testing.T, url, secret string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("POST", url, nil)
	if secret != "" {
		req.Header.Set(TriggerHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStrategyRunnerTrigger(t *testing.T) {
	job := &fakeJob{result: &types.JobResult{Instrument: "EUR_USD", Signal: types.SignalBuy}}
	srv, _ := setupServer(t, job)

	if resp := triggerJob(t, srv.URL+"/api/jobs/strategy-runner", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", resp.StatusCode)
	}
	if job.runs != 0 {
		t.Error("Expected the job not to run without the secret")
	}

	resp := triggerJob(t, srv.URL+"/api/jobs/strategy-runner", trigger)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
		Signal  string `json:"signal"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Message != "Strategy check complete." || body.Signal != "BUY" {
		t.Errorf("Unexpected body %+v", body)
	}

	job.err = errors.New("OANDA API Error: boom")
	resp = triggerJob(t, srv.URL+"/api/jobs/strategy-runner", trigger)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", resp.StatusCode)
	}
	var errBody map[string]string
	json.NewDecoder(resp.Body).Decode(&errBody)
	if errBody["error"] != "OANDA API Error: boom" {
		t.Errorf("Expected error message, got %+v", errBody)
	}
}

func TestSessionsRunnerTrigger(t *testing.T) {
	job := &fakeJob{results: []types.SessionRunResult{{SessionID: "s1"}, {SessionID: "s2", Error: "x"}}}
	srv, _ := setupServer(t, job)

	resp := triggerJob(t, srv.URL+"/api/jobs/sessions-runner", trigger)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Results []types.SessionRunResult `json:"results"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Results) != 2 || body.Results[1].Error != "x" {
		t.Errorf("Unexpected results %+v", body.Results)
	}
}

func TestClosePositionTrigger(t *testing.T) {
	job := &fakeJob{closed: &types.CloseResult{Instrument: "GBP_USD", Price: 1.27, Closed: true}}
	srv, _ := setupServer(t, job)

	if resp := triggerJob(t, srv.URL+"/api/jobs/close-position", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("POST", srv.URL+"/api/jobs/close-position", strings.NewReader(`{"instrument":"GBP_USD"}`))
	req.Header.Set(TriggerHeader, trigger)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if job.closeOn != "GBP_USD" {
		t.Errorf("Expected instrument GBP_USD, got %q", job.closeOn)
	}
	var body struct {
		Message    string  `json:"message"`
		Instrument string  `json:"instrument"`
		Price      float64 `json:"price"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Message != "Position closed." || body.Instrument != "GBP_USD" || body.Price != 1.27 {
		t.Errorf("Unexpected body %+v", body)
	}

	job.closeOn = "unset"
	if resp := triggerJob(t, srv.URL+"/api/jobs/close-position", trigger); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with an empty body, got %d", resp.StatusCode)
	}
	if job.closeOn != "" {
		t.Errorf("Expected empty instrument, got %q", job.closeOn)
	}

	job.err = errors.New("OANDA API Error: boom")
	if resp := triggerJob(t, srv.URL+"/api/jobs/close-position", trigger); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
}

func TestStatusRouter(t *testing.T) {
	srv := httptest.NewServer(StatusRouter(func() any { return map[string]bool{"active": true} }, nil))
	defer srv.Close()

	resp := do(t, "GET", srv.URL+"/status", "", nil)
	var body map[string]bool
	json.NewDecoder(resp.Body).Decode(&body)
	if !body["active"] {
		t.Errorf("Unexpected status body %+v", body)
	}
}
