// Package evaluator holds the built-in strategy evaluators. Strategy code is
// a short expression such as "sma_crossover", "sma_crossover:5:20",
// "ema_crossover:12:26" or "rsi:14:30:70".
package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"fx-forward-runner/internal/interfaces"
	"fx-forward-runner/internal/ta"
	"fx-forward-runner/internal/types"
)

var _ interfaces.Evaluator = (*Builtin)(nil)

type Builtin struct{}

func New() *Builtin { return &Builtin{} }

func (b *Builtin) Evaluate(code string, candles []types.Candle) (types.Signal, error) {
	name, params, err := parse(code)
	if err != nil {
		return types.Signal{}, err
	}
	if len(candles) == 0 {
		return types.Signal{}, types.ErrNotEnoughCandles
	}

	last := candles[len(candles)-1]
	sig := types.Signal{
		Timestamp: time.Unix(last.Ts, 0).UTC(),
		Type:      types.SignalNone,
		Price:     last.Close,
	}
	closes := types.Closes(candles)

	switch name {
	case "sma_crossover", "ema_crossover":
		short, long := param(params, 0, 10), param(params, 1, 20)
		x, ok := crossover(name, closes, short, long)
		if !ok {
			return types.Signal{}, fmt.Errorf("%w: %s needs %d, got %d", types.ErrNotEnoughCandles, name, long+1, len(closes))
		}
		switch {
		case x.CrossedUp():
			sig.Type = types.SignalBuy
		case x.CrossedDown():
			sig.Type = types.SignalSell
		}
		if sig.Actionable() && x.Long != 0 {
			// spread between the averages in basis points, capped at 1
			sig.Confidence = math.Min(1, 0.5+math.Abs(x.Short-x.Long)/x.Long*1e4/20)
		}
	case "rsi":
		period := param(params, 0, 14)
		low, high := float64(param(params, 1, 30)), float64(param(params, 2, 70))
		r := ta.RSI(closes, period)
		if math.IsNaN(r) {
			return types.Signal{}, fmt.Errorf("%w: rsi needs %d, got %d", types.ErrNotEnoughCandles, period+1, len(closes))
		}
		switch {
		case r < low:
			sig.Type = types.SignalBuy
			sig.Confidence = math.Min(1, (low-r)/low+0.5)
		case r > high:
			sig.Type = types.SignalSell
			sig.Confidence = math.Min(1, (r-high)/(100-high)+0.5)
		}
	}
	return sig, nil
}

func crossover(name string, closes []float64, short, long int) (ta.Crossover, bool) {
	if name == "sma_crossover" {
		return ta.SMACrossover(closes, short, long)
	}
	if short <= 0 || long <= 0 || len(closes) < long+1 {
		return ta.Crossover{}, false
	}
	prev := closes[:len(closes)-1]
	return ta.Crossover{
		Short:     ta.EMA(closes, short),
		Long:      ta.EMA(closes, long),
		PrevShort: ta.EMA(prev, short),
		PrevLong:  ta.EMA(prev, long),
	}, true
}

func parse(code string) (string, []int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(code)), ":")
	name := parts[0]
	switch name {
	case "sma_crossover", "ema_crossover", "rsi":
	default:
		return "", nil, types.ConfigErrorf("unknown strategy code %q", code)
	}
	params := make([]int, 0, len(parts)-1)
	for _, p := range parts[1:] {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return "", nil, types.ConfigErrorf("invalid parameter %q in strategy code %q", p, code)
		}
		params = append(params, n)
	}
	return name, params, nil
}

func param(params []int, i, def int) int {
	if i < len(params) {
		return params[i]
	}
	return def
}
