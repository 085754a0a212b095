package registry

import (
	"context"
	"errors"
	"testing"

	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	testCred  = types.Credential{AccountID: "1234", APIKey: "secret", Environment: types.EnvPractice}
	strategyA = types.Strategy{ID: "A", Name: "Alpha", Code: "sma_crossover", Symbol: "EUR_USD", Timeframe: "1m",
		Risk: types.Risk{StopLossPips: 10, TakeProfitPips: 20, MaxPositionSize: 1000}}
	strategyB = types.Strategy{ID: "B", Name: "Beta", Code: "rsi", Symbol: "GBP_USD", Timeframe: "5m"}
)

func setupDB(t *testing.T, enforce bool) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// one connection keeps every query on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := Migrate(db, enforce); err != nil {
		t.Fatalf("Failed to migrate schema: %v", err)
	}
	return db
}

func TestCreateAndListActive(t *testing.T) {
	r := NewGormRegistry(setupDB(t, true), Options{EnforceSingleActive: true})
	ctx := context.Background()

	s, err := r.CreateSession(ctx, "user-1", strategyA, testCred)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.ID == "" || s.Status != types.SessionActive || s.StrategyID != "A" {
		t.Errorf("Unexpected session %+v", s)
	}

	active, err := r.GetActiveSessions(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active session, got %d", len(active))
	}
	got := active[0]
	if got.Strategy.Risk.StopLossPips != 10 || got.Strategy.Risk.MaxPositionSize != 1000 || got.Credential != testCred {
		t.Errorf("Expected full snapshot round trip, got %+v", got)
	}

	others, _ := r.GetActiveSessions(ctx, "user-2")
	if len(others) != 0 {
		t.Errorf("Expected no sessions for another user, got %d", len(others))
	}
}

func TestSingleActiveEnforced(t *testing.T) {
	db := setupDB(t, true)
	r := NewGormRegistry(db, Options{EnforceSingleActive: true})
	ctx := context.Background()

	if _, err := r.CreateSession(ctx, "user-1", strategyA, testCred); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateSession(ctx, "user-1", strategyB, testCred); !errors.Is(err, types.ErrActiveSessionExists) {
		t.Errorf("Expected ErrActiveSessionExists, got %v", err)
	}
	if _, err := r.CreateSession(ctx, "user-2", strategyB, testCred); err != nil {
		t.Errorf("Expected another user to be unaffected, got %v", err)
	}

	// the partial index backs the check even when the pre-check is bypassed
	row := sessionFromDomain("manual", "user-1", strategyB, testCred, r.now())
	if err := db.Create(&row).Error; err == nil {
		t.Error("Expected the unique index to reject a second ACTIVE row")
	}

	if err := r.StopAllSessions(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateSession(ctx, "user-1", strategyB, testCred); err != nil {
		t.Errorf("Expected create after stop-all to succeed, got %v", err)
	}
}

func TestMultipleActiveWhenNotEnforced(t *testing.T) {
	r := NewGormRegistry(setupDB(t, false), Options{})
	ctx := context.Background()

	r.CreateSession(ctx, "user-1", strategyA, testCred)
	r.CreateSession(ctx, "user-1", strategyB, testCred)

	active, err := r.GetActiveSessions(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active sessions, got %d", len(active))
	}

	if err := r.StopAllSessions(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	active, _ = r.GetActiveSessions(ctx, "user-1")
	if len(active) != 0 {
		t.Errorf("Expected zero active sessions after stop-all, got %d", len(active))
	}
}

func TestCreateSessionValidation(t *testing.T) {
	r := NewGormRegistry(setupDB(t, true), Options{EnforceSingleActive: true})
	ctx := context.Background()

	if _, err := r.CreateSession(ctx, "user-1", types.Strategy{}, testCred); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error without strategy, got %v", err)
	}
	if _, err := r.CreateSession(ctx, "user-1", strategyA, types.Credential{AccountID: "1"}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error without credential, got %v", err)
	}
	if _, err := r.CreateSession(ctx, "", strategyA, testCred); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error without user, got %v", err)
	}
}

func TestStopSession(t *testing.T) {
	r := NewGormRegistry(setupDB(t, true), Options{EnforceSingleActive: true})
	ctx := context.Background()

	s, _ := r.CreateSession(ctx, "user-1", strategyA, testCred)
	if err := r.StopSession(ctx, s.ID); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := r.StopSession(ctx, s.ID); err != nil {
		t.Errorf("Expected stopping twice to be a no-op, got %v", err)
	}
	if err := r.StopSession(ctx, "missing"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	got, err := r.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionStopped || got.StoppedAt == nil {
		t.Errorf("Expected STOPPED with timestamp, got %+v", got)
	}
}

func TestStatsAndTradeLogs(t *testing.T) {
	r := NewGormRegistry(setupDB(t, true), Options{EnforceSingleActive: true})
	ctx := context.Background()

	s, _ := r.CreateSession(ctx, "user-1", strategyA, testCred)
	entries := []types.TradeLog{
		{SessionID: s.ID, UserID: "user-1", LogType: LogTypeTrade, Signal: types.SignalBuy, Units: decimal.NewFromInt(100), Price: decimal.RequireFromString("1.1005")},
		{SessionID: s.ID, UserID: "user-1", LogType: LogTypeTrade, Signal: types.SignalBuy, Units: decimal.NewFromInt(100)},
		{SessionID: s.ID, UserID: "user-1", LogType: LogTypeTrade, Signal: types.SignalSell, Units: decimal.NewFromInt(100)},
		{SessionID: s.ID, UserID: "user-1", LogType: LogTypeSignal, Signal: types.SignalNone},
	}
	for _, e := range entries {
		if err := r.AppendTradeLog(ctx, e); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	if err := r.TouchExecution(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	st, err := r.Stats(ctx, "user-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if st.TotalSessions != 1 || st.ActiveSessions != 1 {
		t.Errorf("Unexpected session counts %+v", st)
	}
	if st.TotalTrades != 3 || st.BuyTrades != 2 || st.SellTrades != 1 {
		t.Errorf("Unexpected trade counts %+v", st)
	}
	if st.LastExecution == nil {
		t.Error("Expected last execution to be set")
	}

	logs, err := r.TradeLogs(ctx, "user-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 4 {
		t.Errorf("Expected 4 log entries, got %d", len(logs))
	}

	all, err := r.ListActive(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("Expected 1 active session across users, got %d (%v)", len(all), err)
	}
}
