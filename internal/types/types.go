package types

import (
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Environment string

const (
	EnvPractice Environment = "practice"
	EnvLive     Environment = "live"
)

// Credential identifies one broker account. The API key never takes part in
// the fingerprint, so rotating it does not restart background services.
type Credential struct {
	AccountID   string      `json:"accountId" yaml:"account_id"`
	APIKey      string      `json:"apiKey" yaml:"api_key"`
	Environment Environment `json:"environment" yaml:"environment"`
}

func (c Credential) Fingerprint() string {
	return strings.TrimSpace(c.AccountID) + ":" + string(c.Environment)
}

func (c Credential) Valid() bool {
	if strings.TrimSpace(c.AccountID) == "" || strings.TrimSpace(c.APIKey) == "" {
		return false
	}
	return c.Environment == EnvPractice || c.Environment == EnvLive
}

// LogValue keeps the API key out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("account_id", c.AccountID),
		slog.String("environment", string(c.Environment)),
	)
}

type Risk struct {
	RiskPerTrade    float64 `json:"riskPerTrade" yaml:"risk_per_trade"`
	StopLossPips    float64 `json:"stopLossPips" yaml:"stop_loss_pips"`
	TakeProfitPips  float64 `json:"takeProfitPips" yaml:"take_profit_pips"`
	MaxPositionSize int64   `json:"maxPositionSize" yaml:"max_position_size"`
}

type Strategy struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Code           string `json:"code" yaml:"code"`
	Symbol         string `json:"symbol" yaml:"symbol"`
	Timeframe      string `json:"timeframe" yaml:"timeframe"`
	Risk           Risk   `json:"risk" yaml:"risk"`
	ReverseSignals bool   `json:"reverseSignals" yaml:"reverse_signals"`
}

func (s *Strategy) Selected() bool {
	return s != nil && strings.TrimSpace(s.ID) != ""
}

type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionStopped SessionStatus = "STOPPED"
)

type TradingSession struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	StrategyID    string        `json:"strategyId"`
	Strategy      Strategy      `json:"strategy"`
	Credential    Credential    `json:"credential"`
	Status        SessionStatus `json:"status"`
	CreatedAt     time.Time     `json:"createdAt"`
	StoppedAt     *time.Time    `json:"stoppedAt,omitempty"`
	LastExecution *time.Time    `json:"lastExecution,omitempty"`
}

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalNone SignalType = "NONE"
)

type Signal struct {
	Timestamp  time.Time  `json:"timestamp"`
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Confidence float64    `json:"confidence"`
	Price      float64    `json:"price"`
}

func (s Signal) Actionable() bool {
	return s.Type == SignalBuy || s.Type == SignalSell
}

type ConnectionStatus string

const (
	ConnIdle      ConnectionStatus = "IDLE"
	ConnConnected ConnectionStatus = "CONNECTED"
	ConnError     ConnectionStatus = "ERROR"
)

type ConnectionState struct {
	Fingerprint         string           `json:"fingerprint"`
	Status              ConnectionStatus `json:"status"`
	LastHeartbeatAt     time.Time        `json:"lastHeartbeatAt"`
	ConsecutiveFailures int              `json:"consecutiveFailures"`
	LastError           string           `json:"lastError,omitempty"`
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a market order request. StopLoss and TakeProfit are price
// distances from the fill, not absolute prices.
type Order struct {
	Instrument string
	Side       Side
	Units      decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

// SignedUnits is negative for sells, as the broker expects.
func (o Order) SignedUnits() decimal.Decimal {
	if o.Side == SideSell {
		return o.Units.Abs().Neg()
	}
	return o.Units.Abs()
}

type OrderResult struct {
	OrderCreateTxID string          `json:"orderCreateTxId"`
	OrderFillTxID   string          `json:"orderFillTxId,omitempty"`
	TradeID         string          `json:"tradeId,omitempty"`
	Price           decimal.Decimal `json:"price"`
	Filled          bool            `json:"filled"`
}

type Position struct {
	Instrument string          `json:"instrument"`
	LongUnits  decimal.Decimal `json:"longUnits"`
	ShortUnits decimal.Decimal `json:"shortUnits"`
}

func (p Position) Open() bool {
	return !p.LongUnits.IsZero() || !p.ShortUnits.IsZero()
}

type Account struct {
	ID                string          `json:"id"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	UnrealizedPL      decimal.Decimal `json:"unrealizedPL"`
	OpenPositionCount int64           `json:"openPositionCount"`
}

// Trade log types.
const (
	LogTypeTrade  = "trade"
	LogTypeSignal = "signal"
	LogTypeError  = "error"
)

type TradeLog struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	LogType   string          `json:"logType"`
	Message   string          `json:"message"`
	Signal    SignalType      `json:"signal"`
	Units     decimal.Decimal `json:"units"`
	Price     decimal.Decimal `json:"price"`
	TxID      string          `json:"txId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type TradingStats struct {
	TotalSessions  int64      `json:"totalSessions"`
	ActiveSessions int64      `json:"activeSessions"`
	TotalTrades    int64      `json:"totalTrades"`
	BuyTrades      int64      `json:"buyTrades"`
	SellTrades     int64      `json:"sellTrades"`
	LastExecution  *time.Time `json:"lastExecution,omitempty"`
}

// JobResult is the outcome of one crossover evaluation by the scheduled job.
type JobResult struct {
	SessionID      string       `json:"sessionId,omitempty"`
	Instrument     string       `json:"instrument"`
	Signal         SignalType   `json:"signal"`
	ShortMA        float64      `json:"shortMA"`
	LongMA         float64      `json:"longMA"`
	PrevShortMA    float64      `json:"prevShortMA"`
	PrevLongMA     float64      `json:"prevLongMA"`
	Price          float64      `json:"price"`
	OrderSubmitted bool         `json:"orderSubmitted"`
	SkipReason     string       `json:"skipReason,omitempty"`
	Order          *OrderResult `json:"order,omitempty"`
}

// CloseResult is the outcome of a manual position close.
type CloseResult struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	Closed     bool    `json:"closed"`
	SkipReason string  `json:"skipReason,omitempty"`
}

type SessionRunResult struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	Result    *JobResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}
