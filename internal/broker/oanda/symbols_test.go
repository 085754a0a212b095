package oanda

import "testing"

func TestGranularity(t *testing.T) {
	tests := map[string]string{"1m": "M1", "1H": "H1", "M5": "M5", "d": "D", "": "M1"}
	for in, want := range tests {
		if got := Granularity(in, "M1"); got != want {
			t.Errorf("Granularity(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestInstrument(t *testing.T) {
	tests := map[string]string{"EUR/USD": "EUR_USD", "eurusd": "EUR_USD", "GBP_JPY": "GBP_JPY", " xau-usd ": "XAU_USD"}
	for in, want := range tests {
		if got := Instrument(in); got != want {
			t.Errorf("Instrument(%q): expected %s, got %s", in, want, got)
		}
	}
}
