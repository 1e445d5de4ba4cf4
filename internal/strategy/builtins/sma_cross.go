// Package builtins provides the strategy implementations that ship with
// tradesim.
package builtins

import (
	"fmt"

	"tradesim/internal/domain"
	"tradesim/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACrossParams configures the moving average crossover.
type SMACrossParams struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

// SMACross implements a simple moving average crossover strategy. It enters
// when the fast SMA crosses above the slow SMA and exits when it crosses
// below.
type SMACross struct {
	fast int
	slow int
}

// NewSMACross creates a new SMACross strategy with the specified fast and
// slow moving average periods.
func NewSMACross(p SMACrossParams) (*SMACross, error) {
	if p.Fast <= 0 || p.Slow <= 0 {
		return nil, fmt.Errorf("%w: sma-cross windows must be positive (fast=%d slow=%d)",
			domain.ErrInvalidParameter, p.Fast, p.Slow)
	}
	if p.Fast >= p.Slow {
		return nil, fmt.Errorf("%w: sma-cross fast window %d must be less than slow window %d",
			domain.ErrInvalidParameter, p.Fast, p.Slow)
	}
	return &SMACross{fast: p.Fast, slow: p.Slow}, nil
}

func newSMACross(params strategy.Params) (strategy.Strategy, error) {
	p := SMACrossParams{Fast: 12, Slow: 26}
	if err := strategy.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewSMACross(p)
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Generate compares the fast and slow averages on the last bar with those
// on the bar before it.
func (s *SMACross) Generate(symbol string, history []domain.Bar) domain.Signal {
	n := len(history)
	if n == 0 {
		return domain.Signal{Symbol: symbol, Direction: domain.DirectionHold}
	}
	sig := domain.Hold(symbol, history[n-1].Timestamp)
	if n < s.slow+1 {
		return sig
	}

	fast, slow := sma(history, n-1, s.fast), sma(history, n-1, s.slow)
	prevFast, prevSlow := sma(history, n-2, s.fast), sma(history, n-2, s.slow)

	switch {
	case prevFast <= prevSlow && fast > slow:
		sig.Direction = domain.DirectionEnter
	case prevFast >= prevSlow && fast < slow:
		sig.Direction = domain.DirectionExit
	}
	return sig
}
