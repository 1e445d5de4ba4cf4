// Package domain defines the core value types shared across tradesim: bars,
// signals, orders, positions, closed trades and equity points.
package domain

import (
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one dated OHLCV record for an instrument. Bars are produced by a
// price source and never mutated by the simulation.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Direction is the intent a strategy expresses for an instrument on a date.
type Direction string

const (
	DirectionEnter Direction = "ENTER"
	DirectionExit  Direction = "EXIT"
	DirectionHold  Direction = "HOLD"
)

// Signal is a strategy's directional intent for one instrument on one date.
type Signal struct {
	Symbol    string
	Date      time.Time
	Direction Direction
}

// Hold returns a HOLD signal for symbol on date.
func Hold(symbol string, date time.Time) Signal {
	return Signal{Symbol: symbol, Date: date, Direction: DirectionHold}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ExitReason explains why a position was (partially) closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "SIGNAL"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitEndOfRun   ExitReason = "END_OF_RUN"
)

// Order is a risk-authorized, sized instruction. Price is the bar's reference
// price; slippage and commission are applied at execution.
type Order struct {
	Symbol        string
	Side          Side
	Quantity      float64
	Price         float64
	CommissionPct float64
	SlippagePct   float64

	// Protective levels applied to the position on a BUY. Zero disables.
	StopPrice   float64
	TargetPrice float64
	TrailingPct float64

	// Reason is set on SELL orders.
	Reason ExitReason
}

// ExecutionPrice returns the fill price after slippage: buys pay up, sells
// give up.
func (o Order) ExecutionPrice() float64 {
	if o.Side == SideBuy {
		return o.Price * (1 + o.SlippagePct)
	}
	return o.Price * (1 - o.SlippagePct)
}

// Notional returns quantity times execution price.
func (o Order) Notional() float64 {
	return o.Quantity * o.ExecutionPrice()
}

// Commission returns the commission charged on the order's notional.
func (o Order) Commission() float64 {
	return o.Notional() * o.CommissionPct
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Position is an open long holding in one instrument.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	StopPrice     float64   `json:"stop_price"`   // 0 when no stop is set
	TargetPrice   float64   `json:"target_price"` // 0 when no target is set
	TrailingPct   float64   `json:"trailing_pct"` // >0 ratchets StopPrice up with the close
	EntryDate     time.Time `json:"entry_date"`
}

// Trade is an append-only record of a full or partial close.
type Trade struct {
	Symbol      string     `json:"symbol"`
	EntryDate   time.Time  `json:"entry_date"`
	ExitDate    time.Time  `json:"exit_date"`
	EntryPrice  float64    `json:"entry_price"`
	ExitPrice   float64    `json:"exit_price"`
	Quantity    float64    `json:"quantity"`
	RealizedPnL float64    `json:"realized_pnl"`
	Commission  float64    `json:"commission"` // charged on the closing fill
	ExitReason  ExitReason `json:"exit_reason"`
}

// EquityPoint is one mark-to-market observation.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}

// PortfolioState is a point-in-time copy of the ledger.
type PortfolioState struct {
	Cash          float64
	Positions     map[string]Position
	EquityHistory []EquityPoint
}
