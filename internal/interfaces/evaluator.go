package interfaces

import "fx-forward-runner/internal/types"

// Evaluator turns strategy code and a candle window into a signal. It must be pure.
type Evaluator interface {
	Evaluate(code string, candles []types.Candle) (types.Signal, error)
}
