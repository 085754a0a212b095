package oanda

import "strings"

var granularities = map[string]string{
	"1m": "M1", "5m": "M5", "15m": "M15", "30m": "M30",
	"1h": "H1", "4h": "H4", "1d": "D", "1w": "W",
}

// Granularity maps a strategy timeframe ("5m", "1h") to the broker's code.
// Values already in broker form pass through; empty falls back to def.
func Granularity(timeframe, def string) string {
	tf := strings.TrimSpace(timeframe)
	if tf == "" {
		return def
	}
	if g, ok := granularities[strings.ToLower(tf)]; ok {
		return g
	}
	return strings.ToUpper(tf)
}

// Instrument normalizes "EUR/USD" or "eurusd" style symbols to "EUR_USD".
func Instrument(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "_", "-", "_").Replace(s)
	if len(s) == 6 && !strings.Contains(s, "_") {
		s = s[:3] + "_" + s[3:]
	}
	return s
}
