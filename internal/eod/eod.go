// Package eod writes the daily order summary. The FX trading day rolls over
// at 21:00 UTC; after that the day's order log is aggregated per instrument
// into <dir>/eod/<day>.csv.
package eod

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/tradelog"

	"github.com/shopspring/decimal"
)

// RolloverHour is the UTC hour after which the day's summary is due.
const RolloverHour = 21

type aggRow struct {
	Instrument string
	BuyUnits   decimal.Decimal
	BuyValue   decimal.Decimal
	SellUnits  decimal.Decimal
	SellValue  decimal.Decimal
}

type Summarizer struct {
	trades *tradelog.Writer
	now    func() time.Time
}

var _ interfaces.EodSummarizer = (*Summarizer)(nil)

func New(trades *tradelog.Writer) *Summarizer {
	return &Summarizer{trades: trades, now: time.Now}
}

func (s *Summarizer) csvPath(t time.Time) string {
	return filepath.Join(s.trades.Dir(), "eod", t.UTC().Format("2006-01-02")+".csv")
}

// SummarizeDay aggregates the filled orders logged on t's UTC day. It
// returns an empty path when nothing was filled.
func (s *Summarizer) SummarizeDay(t time.Time) (string, error) {
	f, err := os.Open(s.trades.OrdersFile(t))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e tradelog.OrderEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || !e.Filled {
			continue
		}
		units, err := decimal.NewFromString(e.Units)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			continue
		}
		row := aggs[e.Instrument]
		if row == nil {
			row = &aggRow{Instrument: e.Instrument}
			aggs[e.Instrument] = row
		}
		switch e.Side {
		case "BUY":
			row.BuyUnits = row.BuyUnits.Add(units)
			row.BuyValue = row.BuyValue.Add(units.Mul(price))
		case "SELL":
			row.SellUnits = row.SellUnits.Add(units)
			row.SellValue = row.SellValue.Add(units.Mul(price))
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"instrument", "buy_units", "buy_avg", "sell_units", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	var totalBuy, totalSell, totalPnL decimal.Decimal
	for _, k := range keys {
		r := aggs[k]
		buyAvg, sellAvg := average(r.BuyValue, r.BuyUnits), average(r.SellValue, r.SellUnits)
		// only the matched part of the day's flow is realized
		pnl := decimal.Min(r.BuyUnits, r.SellUnits).Mul(sellAvg.Sub(buyAvg))
		rec := []string{
			r.Instrument,
			r.BuyUnits.String(), buyAvg.StringFixed(5),
			r.SellUnits.String(), sellAvg.StringFixed(5),
			pnl.StringFixed(2), r.BuyValue.StringFixed(2), r.SellValue.StringFixed(2),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy = totalBuy.Add(r.BuyValue)
		totalSell = totalSell.Add(r.SellValue)
		totalPnL = totalPnL.Add(pnl)
	}
	_ = w.Write([]string{"TOTAL", "", "", "", "", totalPnL.StringFixed(2), totalBuy.StringFixed(2), totalSell.StringFixed(2)})
	w.Flush()
	return outPath, w.Error()
}

func (s *Summarizer) SummarizeToday() (string, error) { return s.SummarizeDay(s.now()) }

// ShouldRunNow reports whether today's rollover has passed and its summary
// is still missing.
func (s *Summarizer) ShouldRunNow() (bool, string) {
	now := s.now().UTC()
	outPath := s.csvPath(now)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), RolloverHour, 0, 0, 0, time.UTC)
	if now.Before(cutoff) {
		return false, outPath
	}
	if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
		return true, outPath
	}
	return false, outPath
}

func average(value, units decimal.Decimal) decimal.Decimal {
	if units.IsZero() {
		return decimal.Zero
	}
	return value.Div(units)
}
