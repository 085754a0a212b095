package ta

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	if got := SMA(closes, 3); !approx(got, 4) {
		t.Errorf("Expected 4, got %f", got)
	}
	if got := SMA(closes, 6); !math.IsNaN(got) {
		t.Errorf("Expected NaN for short series, got %f", got)
	}
}

func TestEMA(t *testing.T) {
	flat := []float64{2, 2, 2, 2, 2, 2}
	if got := EMA(flat, 3); !approx(got, 2) {
		t.Errorf("Expected 2 on a flat series, got %f", got)
	}
	rising := []float64{1, 2, 3, 4, 5, 6}
	if got := EMA(rising, 3); got <= SMA(rising[:3], 3) || got > 6 {
		t.Errorf("Expected EMA to follow a rising series, got %f", got)
	}
}

func TestSMACrossoverBullish(t *testing.T) {
	// short MA goes 1.0990 -> 1.1005 while long MA stays at 1.1000
	closes := []float64{
		1.1100, 1.1000, 1.1000, 1.1000, 1.1000, 1.1000, 1.1000, 1.1000, 1.1000, 1.1000,
		1.0950, 1.0990, 1.0990, 1.0990, 1.0990, 1.0990, 1.0990, 1.0990, 1.0990, 1.1030,
		1.1100,
	}

	x, ok := SMACrossover(closes, 10, 20)
	if !ok {
		t.Fatal("Expected enough data")
	}
	if math.Abs(x.PrevShort-1.0990) > 1e-9 || math.Abs(x.Short-1.1005) > 1e-9 {
		t.Errorf("Expected short 1.0990 -> 1.1005, got %f -> %f", x.PrevShort, x.Short)
	}
	if math.Abs(x.PrevLong-1.1000) > 1e-9 || math.Abs(x.Long-1.1000) > 1e-9 {
		t.Errorf("Expected flat long 1.1000, got %f -> %f", x.PrevLong, x.Long)
	}
	if !x.CrossedUp() {
		t.Error("Expected bullish cross")
	}
	if x.CrossedDown() {
		t.Error("Expected no bearish cross")
	}
}

func TestSMACrossoverFlatIsNoSignal(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 1.1
	}
	x, ok := SMACrossover(closes, 10, 20)
	if !ok {
		t.Fatal("Expected enough data")
	}
	if x.CrossedUp() || x.CrossedDown() {
		t.Errorf("Expected no cross on a flat series, got %+v", x)
	}
}

func TestSMACrossoverNotEnoughData(t *testing.T) {
	if _, ok := SMACrossover(make([]float64, 20), 10, 20); ok {
		t.Error("Expected long+1 values to be required")
	}
}
