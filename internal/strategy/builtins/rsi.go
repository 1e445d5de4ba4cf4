package builtins

import (
	"fmt"
	"math"

	"tradesim/internal/domain"
	"tradesim/internal/strategy"
)

var _ strategy.Strategy = (*RSI)(nil)

// RSIParams configures the RSI threshold strategy.
type RSIParams struct {
	Period     int     `yaml:"period"`
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`
}

// RSI enters when the relative strength index drops below the oversold
// level and exits when it rises above the overbought level.
type RSI struct {
	p RSIParams
}

// NewRSI validates p and returns an RSI strategy.
func NewRSI(p RSIParams) (*RSI, error) {
	if p.Period <= 0 {
		return nil, fmt.Errorf("%w: rsi period must be positive, got %d", domain.ErrInvalidParameter, p.Period)
	}
	if math.IsNaN(p.Oversold) || math.IsNaN(p.Overbought) ||
		p.Oversold <= 0 || p.Overbought >= 100 || p.Oversold >= p.Overbought {
		return nil, fmt.Errorf("%w: rsi thresholds need 0 < oversold < overbought < 100 (oversold=%g overbought=%g)",
			domain.ErrInvalidParameter, p.Oversold, p.Overbought)
	}
	return &RSI{p: p}, nil
}

func newRSI(params strategy.Params) (strategy.Strategy, error) {
	p := RSIParams{Period: 14, Oversold: 30, Overbought: 70}
	if err := strategy.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewRSI(p)
}

// Name returns "rsi".
func (s *RSI) Name() string {
	return "rsi"
}

// Generate needs period+1 bars to have period price changes.
func (s *RSI) Generate(symbol string, history []domain.Bar) domain.Signal {
	n := len(history)
	if n == 0 {
		return domain.Signal{Symbol: symbol, Direction: domain.DirectionHold}
	}
	sig := domain.Hold(symbol, history[n-1].Timestamp)
	if n < s.p.Period+1 {
		return sig
	}
	v, ok := rsi(history, n-1, s.p.Period)
	if !ok {
		return sig
	}
	switch {
	case v < s.p.Oversold:
		sig.Direction = domain.DirectionEnter
	case v > s.p.Overbought:
		sig.Direction = domain.DirectionExit
	}
	return sig
}
