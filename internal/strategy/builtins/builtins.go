package builtins

import "tradesim/internal/strategy"

// Register adds every built-in strategy to reg.
func Register(reg *strategy.Registry) {
	reg.Register("sma-cross", newSMACross)
	reg.Register("rsi", newRSI)
	reg.Register("bollinger", newBollinger)
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	Register(reg)
	return reg
}
