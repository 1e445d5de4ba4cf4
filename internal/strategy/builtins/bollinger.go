package builtins

import (
	"fmt"
	"math"

	"tradesim/internal/domain"
	"tradesim/internal/strategy"
)

var _ strategy.Strategy = (*Bollinger)(nil)

// BollingerParams configures the band width.
type BollingerParams struct {
	Window int     `yaml:"window"`
	NumStd float64 `yaml:"num_std"`
}

// Bollinger enters when the close touches the lower band and exits when it
// touches the upper band.
type Bollinger struct {
	p BollingerParams
}

// NewBollinger validates p and returns a Bollinger strategy.
func NewBollinger(p BollingerParams) (*Bollinger, error) {
	if p.Window < 2 {
		return nil, fmt.Errorf("%w: bollinger window must be at least 2, got %d", domain.ErrInvalidParameter, p.Window)
	}
	if p.NumStd <= 0 || math.IsNaN(p.NumStd) || math.IsInf(p.NumStd, 0) {
		return nil, fmt.Errorf("%w: bollinger num_std must be positive and finite, got %g", domain.ErrInvalidParameter, p.NumStd)
	}
	return &Bollinger{p: p}, nil
}

func newBollinger(params strategy.Params) (strategy.Strategy, error) {
	p := BollingerParams{Window: 20, NumStd: 2}
	if err := strategy.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewBollinger(p)
}

// Name returns "bollinger".
func (s *Bollinger) Name() string {
	return "bollinger"
}

// Generate evaluates the bands over the last Window closes.
func (s *Bollinger) Generate(symbol string, history []domain.Bar) domain.Signal {
	n := len(history)
	if n == 0 {
		return domain.Signal{Symbol: symbol, Direction: domain.DirectionHold}
	}
	sig := domain.Hold(symbol, history[n-1].Timestamp)
	if n < s.p.Window {
		return sig
	}
	mid := sma(history, n-1, s.p.Window)
	width := s.p.NumStd * sampleStd(history, n-1, s.p.Window, mid)
	if width == 0 {
		return sig
	}
	closePx := history[n-1].Close
	switch {
	case closePx <= mid-width:
		sig.Direction = domain.DirectionEnter
	case closePx >= mid+width:
		sig.Direction = domain.DirectionExit
	}
	return sig
}
