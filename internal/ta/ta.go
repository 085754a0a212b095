package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMA seeds with the SMA of the first n values and smooths over the rest.
func EMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	k := 2.0 / float64(n+1)
	ema := SMA(closes[:n], n)
	for _, c := range closes[n:] {
		ema = c*k + ema*(1-k)
	}
	return ema
}

// Crossover compares a fast and a slow average on the full series and on the
// series without its last value.
type Crossover struct {
	Short, Long         float64
	PrevShort, PrevLong float64
}

// SMACrossover needs at least long+1 values; otherwise ok is false.
func SMACrossover(closes []float64, short, long int) (x Crossover, ok bool) {
	if short <= 0 || long <= 0 || len(closes) < long+1 || len(closes) < short+1 {
		return Crossover{}, false
	}
	prev := closes[:len(closes)-1]
	return Crossover{
		Short:     SMA(closes, short),
		Long:      SMA(closes, long),
		PrevShort: SMA(prev, short),
		PrevLong:  SMA(prev, long),
	}, true
}

// CrossedUp is the bullish cross: fast at or below slow before, strictly above now.
func (x Crossover) CrossedUp() bool {
	return x.PrevShort <= x.PrevLong && x.Short > x.Long
}

// CrossedDown is the bearish mirror of CrossedUp.
func (x Crossover) CrossedDown() bool {
	return x.PrevShort >= x.PrevLong && x.Short < x.Long
}

func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}
