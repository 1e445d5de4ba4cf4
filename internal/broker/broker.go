// Package broker defines the Broker interface and the in-memory Ledger that
// executes simulated fills and tracks cash, positions and equity.
package broker

import (
	"time"

	"tradesim/internal/domain"
)

// Broker abstracts the book a backtest trades against: order execution,
// mark-to-market and read access to holdings.
type Broker interface {
	// Name returns the broker identifier (e.g. "ledger").
	Name() string

	// Execute applies an authorized order on date. SELL orders return the
	// resulting closed Trade; BUY orders return nil.
	Execute(order domain.Order, date time.Time) (*domain.Trade, error)

	// CanAfford reports whether cash covers a BUY order's notional plus
	// commission.
	CanAfford(order domain.Order) bool

	// MarkToMarket appends the equity observation for date.
	MarkToMarket(date time.Time, closes map[string]float64) domain.EquityPoint

	// Cash returns the uncommitted cash balance.
	Cash() float64

	// Equity returns cash plus open positions valued at closes, falling back
	// to the last known mark for instruments missing from closes.
	Equity(closes map[string]float64) float64

	// Position returns the open position in symbol, if any.
	Position(symbol string) (domain.Position, bool)

	// Positions returns all open positions ordered by symbol.
	Positions() []domain.Position

	// EquityHistory returns the recorded equity points in date order.
	EquityHistory() []domain.EquityPoint
}
