package oanda

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fx-forward-runner/internal/api"
	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/types"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"
)

var _ interfaces.Broker = (*Client)(nil)

// Client is a stateless wrapper over the v20 REST API. The credential is
// supplied per call, so a single Client is shared by every session.
type Client struct {
	practice     *api.Client
	live         *api.Client
	completeOnly bool
}

type Option func(*options)

type options struct {
	baseURL      string
	timeout      time.Duration
	httpClient   *http.Client
	completeOnly bool
	logging      bool
}

// WithBaseURL points both environments at one server (tests, proxies).
func WithBaseURL(u string) Option { return func(o *options) { o.baseURL = u } }

func WithTimeout(d time.Duration) Option { return func(o *options) { o.timeout = d } }

func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.httpClient = hc } }

// WithCompleteOnly drops the still-forming candle from Candles results.
func WithCompleteOnly(on bool) Option { return func(o *options) { o.completeOnly = on } }

func WithLogging(on bool) Option { return func(o *options) { o.logging = on } }

func New(opts ...Option) *Client {
	o := options{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	build := func(base string) *api.Client {
		if o.baseURL != "" {
			base = o.baseURL
		}
		copts := []api.ClientOption{
			api.WithBaseURL(base),
			api.WithHeader("Accept-Datetime-Format", "RFC3339"),
			api.WithLogging(o.logging),
		}
		if o.httpClient != nil {
			copts = append(copts, api.WithHTTPClient(o.httpClient))
		}
		copts = append(copts, api.WithTimeout(o.timeout))
		return api.NewClient(copts...)
	}

	return &Client{
		practice:     build(PracticeURL),
		live:         build(LiveURL),
		completeOnly: o.completeOnly,
	}
}

func (c *Client) clientFor(cred types.Credential) (*api.Client, error) {
	if !cred.Valid() {
		return nil, types.ConfigErrorf("incomplete broker credential")
	}
	if cred.Environment == types.EnvLive {
		return c.live, nil
	}
	return c.practice, nil
}

func authHeader(cred types.Credential) map[string]string {
	return map[string]string{"Authorization": "Bearer " + cred.APIKey}
}

// classify converts transport errors into the broker error taxonomy.
func classify(err error) error {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) {
		return &types.BrokerError{Status: httpErr.StatusCode, Message: httpErr.Message()}
	}
	var netErr *api.NetworkError
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", types.ErrTransientBroker, netErr.Err)
	}
	return err
}

func (c *Client) get(ctx context.Context, cred types.Credential, path string) (gjson.Result, error) {
	cl, err := c.clientFor(cred)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := cl.GET(ctx, path, authHeader(cred))
	if err != nil {
		return gjson.Result{}, classify(err)
	}
	return resp.JSON(), nil
}

func (c *Client) GetAccount(ctx context.Context, cred types.Credential) (types.Account, error) {
	res, err := c.get(ctx, cred, "/v3/accounts/"+url.PathEscape(cred.AccountID))
	if err != nil {
		return types.Account{}, err
	}
	acc := res.Get("account")
	return types.Account{
		ID:                acc.Get("id").String(),
		Currency:          acc.Get("currency").String(),
		Balance:           parseDecimal(acc.Get("balance").String()),
		UnrealizedPL:      parseDecimal(acc.Get("unrealizedPL").String()),
		OpenPositionCount: acc.Get("openPositionCount").Int(),
	}, nil
}

// Candles returns mid-price candles oldest first.
func (c *Client) Candles(ctx context.Context, cred types.Credential, instrument, granularity string, count int) ([]types.Candle, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	q.Set("price", "M")
	q.Set("granularity", granularity)

	res, err := c.get(ctx, cred, "/v3/instruments/"+url.PathEscape(instrument)+"/candles?"+q.Encode())
	if err != nil {
		return nil, err
	}

	raw := res.Get("candles").Array()
	out := make([]types.Candle, 0, len(raw))
	for _, rc := range raw {
		if c.completeOnly && !rc.Get("complete").Bool() {
			continue
		}
		var ts int64
		if t, err := time.Parse(time.RFC3339Nano, rc.Get("time").String()); err == nil {
			ts = t.Unix()
		}
		mid := rc.Get("mid")
		out = append(out, types.Candle{
			Ts:    ts,
			Open:  mid.Get("o").Float(),
			High:  mid.Get("h").Float(),
			Low:   mid.Get("l").Float(),
			Close: mid.Get("c").Float(),
			Vol:   rc.Get("volume").Float(),
		})
	}
	return out, nil
}

// LatestPrice returns the mid of the best bid and ask.
func (c *Client) LatestPrice(ctx context.Context, cred types.Credential, instrument string) (float64, error) {
	path := "/v3/accounts/" + url.PathEscape(cred.AccountID) + "/pricing?instruments=" + url.QueryEscape(instrument)
	res, err := c.get(ctx, cred, path)
	if err != nil {
		return 0, err
	}
	price := res.Get("prices.0")
	if !price.Exists() {
		return 0, fmt.Errorf("no price returned for %s", instrument)
	}
	bid := price.Get("bids.0.price").Float()
	ask := price.Get("asks.0.price").Float()
	if bid == 0 || ask == 0 {
		bid, ask = price.Get("closeoutBid").Float(), price.Get("closeoutAsk").Float()
	}
	return (bid + ask) / 2, nil
}

type priceDistance struct {
	Distance    string `json:"distance"`
	TimeInForce string `json:"timeInForce"`
}

type marketOrder struct {
	Type             string         `json:"type"`
	Instrument       string         `json:"instrument"`
	Units            string         `json:"units"`
	TimeInForce      string         `json:"timeInForce"`
	PositionFill     string         `json:"positionFill"`
	StopLossOnFill   *priceDistance `json:"stopLossOnFill,omitempty"`
	TakeProfitOnFill *priceDistance `json:"takeProfitOnFill,omitempty"`
}

// PlaceMarketOrder submits a fill-or-kill market order. An order the broker
// accepted but cancelled (no liquidity, margin) comes back with Filled=false.
func (c *Client) PlaceMarketOrder(ctx context.Context, cred types.Credential, order types.Order) (types.OrderResult, error) {
	cl, err := c.clientFor(cred)
	if err != nil {
		return types.OrderResult{}, err
	}
	if order.Units.Sign() <= 0 {
		return types.OrderResult{}, types.ConfigErrorf("order units must be positive, got %s", order.Units)
	}

	body := marketOrder{
		Type:         "MARKET",
		Instrument:   order.Instrument,
		Units:        order.SignedUnits().String(),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if order.StopLoss != nil && order.StopLoss.Sign() > 0 {
		body.StopLossOnFill = &priceDistance{Distance: order.StopLoss.StringFixed(5), TimeInForce: "GTC"}
	}
	if order.TakeProfit != nil && order.TakeProfit.Sign() > 0 {
		body.TakeProfitOnFill = &priceDistance{Distance: order.TakeProfit.StringFixed(5), TimeInForce: "GTC"}
	}

	path := "/v3/accounts/" + url.PathEscape(cred.AccountID) + "/orders"
	resp, err := cl.POST(ctx, path, map[string]any{"order": body}, authHeader(cred))
	if err != nil {
		return types.OrderResult{}, classify(err)
	}

	res := resp.JSON()
	fill := res.Get("orderFillTransaction")
	result := types.OrderResult{
		OrderCreateTxID: res.Get("orderCreateTransaction.id").String(),
		OrderFillTxID:   fill.Get("id").String(),
		TradeID:         fill.Get("tradeOpened.tradeID").String(),
		Price:           parseDecimal(fill.Get("price").String()),
		Filled:          fill.Exists(),
	}
	return result, nil
}

func (c *Client) OpenPosition(ctx context.Context, cred types.Credential, instrument string) (types.Position, error) {
	path := "/v3/accounts/" + url.PathEscape(cred.AccountID) + "/positions/" + url.PathEscape(instrument)
	res, err := c.get(ctx, cred, path)
	if err != nil {
		var be *types.BrokerError
		// The broker answers 404 for an instrument never traded on the account.
		if errors.As(err, &be) && be.Status == http.StatusNotFound {
			return types.Position{Instrument: instrument}, nil
		}
		return types.Position{}, err
	}
	pos := res.Get("position")
	return types.Position{
		Instrument: instrument,
		LongUnits:  parseDecimal(pos.Get("long.units").String()),
		ShortUnits: parseDecimal(pos.Get("short.units").String()).Abs(),
	}, nil
}

// ClosePosition closes whichever sides of the position are open. A flat
// position is a no-op.
func (c *Client) ClosePosition(ctx context.Context, cred types.Credential, instrument string) error {
	pos, err := c.OpenPosition(ctx, cred, instrument)
	if err != nil {
		return err
	}
	if !pos.Open() {
		return nil
	}

	body := map[string]string{}
	if !pos.LongUnits.IsZero() {
		body["longUnits"] = "ALL"
	}
	if !pos.ShortUnits.IsZero() {
		body["shortUnits"] = "ALL"
	}

	cl, err := c.clientFor(cred)
	if err != nil {
		return err
	}
	path := "/v3/accounts/" + url.PathEscape(cred.AccountID) + "/positions/" + url.PathEscape(instrument) + "/close"
	if _, err := cl.PUT(ctx, path, body, authHeader(cred)); err != nil {
		return classify(err)
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
