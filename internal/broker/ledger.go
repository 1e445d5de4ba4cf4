package broker

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*Ledger)(nil)

// quantityEpsilon absorbs float noise when a sell closes a whole position.
const quantityEpsilon = 1e-9

// Ledger implements Broker for backtesting. It owns cash, open positions,
// the closed-trade log and the equity history of a single run, and makes no
// external calls. Cash and commissions are accumulated as decimals.
type Ledger struct {
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[string]*domain.Position
	marks     map[string]float64

	trades  []domain.Trade
	history []domain.EquityPoint

	commission      decimal.Decimal
	entryCommission decimal.Decimal
}

// NewLedger creates a Ledger holding initialCapital in cash and no
// positions.
func NewLedger(initialCapital float64) *Ledger {
	c := decimal.NewFromFloat(initialCapital)
	return &Ledger{
		initial:   c,
		cash:      c,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]float64),
	}
}

// Name returns "ledger".
func (l *Ledger) Name() string {
	return "ledger"
}

// Execute applies order at its execution price. A BUY whose cost exceeds
// cash fails with domain.ErrInsufficientFunds; a SELL of more than is held
// fails with domain.ErrInvalidOrder. Neither failure mutates the ledger.
func (l *Ledger) Execute(order domain.Order, date time.Time) (*domain.Trade, error) {
	if order.Quantity <= 0 || order.Price <= 0 {
		return nil, fmt.Errorf("%w: %s %s qty=%g price=%g",
			domain.ErrInvalidOrder, order.Side, order.Symbol, order.Quantity, order.Price)
	}

	switch order.Side {
	case domain.SideBuy:
		return nil, l.buy(order, date)
	case domain.SideSell:
		return l.sell(order, date)
	default:
		return nil, fmt.Errorf("%w: unknown side %q", domain.ErrInvalidOrder, order.Side)
	}
}

// buyCost returns the notional and commission of a BUY order.
func buyCost(order domain.Order) (notional, fee decimal.Decimal) {
	notional = decimal.NewFromFloat(order.Quantity).Mul(decimal.NewFromFloat(order.ExecutionPrice()))
	fee = notional.Mul(decimal.NewFromFloat(order.CommissionPct))
	return notional, fee
}

// CanAfford reports whether the ledger's cash covers order's cost.
func (l *Ledger) CanAfford(order domain.Order) bool {
	notional, fee := buyCost(order)
	return !notional.Add(fee).GreaterThan(l.cash)
}

func (l *Ledger) buy(order domain.Order, date time.Time) error {
	execPx := order.ExecutionPrice()
	notional, fee := buyCost(order)
	cost := notional.Add(fee)
	if cost.GreaterThan(l.cash) {
		return fmt.Errorf("%w: buy %g %s costs %s, cash %s",
			domain.ErrInsufficientFunds, order.Quantity, order.Symbol, cost.StringFixed(2), l.cash.StringFixed(2))
	}

	l.cash = l.cash.Sub(cost)
	l.commission = l.commission.Add(fee)
	l.entryCommission = l.entryCommission.Add(fee)

	pos, ok := l.positions[order.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: order.Symbol, EntryDate: date}
		l.positions[order.Symbol] = pos
	}
	qty := pos.Quantity + order.Quantity
	pos.AvgEntryPrice = (pos.Quantity*pos.AvgEntryPrice + order.Quantity*execPx) / qty
	pos.Quantity = qty
	if order.StopPrice > 0 {
		pos.StopPrice = order.StopPrice
	}
	if order.TargetPrice > 0 {
		pos.TargetPrice = order.TargetPrice
	}
	if order.TrailingPct > 0 {
		pos.TrailingPct = order.TrailingPct
	}
	if _, marked := l.marks[order.Symbol]; !marked {
		l.marks[order.Symbol] = order.Price
	}
	return nil
}

func (l *Ledger) sell(order domain.Order, date time.Time) (*domain.Trade, error) {
	pos, ok := l.positions[order.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: sell %s with no open position", domain.ErrInvalidOrder, order.Symbol)
	}
	if order.Quantity > pos.Quantity+quantityEpsilon {
		return nil, fmt.Errorf("%w: sell %g %s exceeds held %g",
			domain.ErrInvalidOrder, order.Quantity, order.Symbol, pos.Quantity)
	}

	execPx := order.ExecutionPrice()
	qty := decimal.NewFromFloat(order.Quantity)
	proceeds := qty.Mul(decimal.NewFromFloat(execPx))
	fee := proceeds.Mul(decimal.NewFromFloat(order.CommissionPct))
	basis := qty.Mul(decimal.NewFromFloat(pos.AvgEntryPrice))

	l.cash = l.cash.Add(proceeds).Sub(fee)
	l.commission = l.commission.Add(fee)

	reason := order.Reason
	if reason == "" {
		reason = domain.ExitSignal
	}
	trade := domain.Trade{
		Symbol:      order.Symbol,
		EntryDate:   pos.EntryDate,
		ExitDate:    date,
		EntryPrice:  pos.AvgEntryPrice,
		ExitPrice:   execPx,
		Quantity:    order.Quantity,
		RealizedPnL: proceeds.Sub(basis).Sub(fee).InexactFloat64(),
		Commission:  fee.InexactFloat64(),
		ExitReason:  reason,
	}
	l.trades = append(l.trades, trade)

	pos.Quantity -= order.Quantity
	if pos.Quantity <= quantityEpsilon {
		delete(l.positions, order.Symbol)
	}
	return &trade, nil
}

// MarkToMarket records the equity for date. closes updates the last known
// mark of each instrument it contains; open positions without a close keep
// their previous mark. Trailing stops are ratcheted up to the new closes.
func (l *Ledger) MarkToMarket(date time.Time, closes map[string]float64) domain.EquityPoint {
	for sym, px := range closes {
		l.marks[sym] = px
	}
	for sym, pos := range l.positions {
		px, ok := closes[sym]
		if !ok || pos.TrailingPct <= 0 {
			continue
		}
		if stop := px * (1 - pos.TrailingPct); stop > pos.StopPrice {
			pos.StopPrice = stop
		}
	}

	pt := domain.EquityPoint{
		Date:   date,
		Equity: l.Equity(nil),
		Cash:   l.cash.InexactFloat64(),
	}
	l.history = append(l.history, pt)
	return pt
}

// Equity returns cash plus the value of open positions. Prices come from
// closes first, then the last mark, then the average entry price.
func (l *Ledger) Equity(closes map[string]float64) float64 {
	total := l.cash
	for sym, pos := range l.positions {
		px, ok := closes[sym]
		if !ok {
			px, ok = l.marks[sym]
		}
		if !ok {
			px = pos.AvgEntryPrice
		}
		total = total.Add(decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(px)))
	}
	return total.InexactFloat64()
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

// InitialCapital returns the cash the ledger was created with.
func (l *Ledger) InitialCapital() float64 {
	return l.initial.InexactFloat64()
}

// Position returns a copy of the open position in symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by symbol.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns the closed trades in execution order.
func (l *Ledger) Trades() []domain.Trade {
	out := make([]domain.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityHistory returns the equity points recorded so far.
func (l *Ledger) EquityHistory() []domain.EquityPoint {
	out := make([]domain.EquityPoint, len(l.history))
	copy(out, l.history)
	return out
}

// CommissionPaid returns the total commission charged on all fills.
func (l *Ledger) CommissionPaid() float64 {
	return l.commission.InexactFloat64()
}

// EntryCommissionPaid returns the commission charged on BUY fills only.
// Exit commissions are already netted into each trade's realized PnL.
func (l *Ledger) EntryCommissionPaid() float64 {
	return l.entryCommission.InexactFloat64()
}

// UnrealizedPnL returns the mark-to-market gain of open positions over their
// average entry price.
func (l *Ledger) UnrealizedPnL() float64 {
	var total float64
	for _, pos := range l.Positions() {
		px, ok := l.marks[pos.Symbol]
		if !ok {
			px = pos.AvgEntryPrice
		}
		total += pos.Quantity * (px - pos.AvgEntryPrice)
	}
	return total
}

// Snapshot returns a deep copy of the portfolio state.
func (l *Ledger) Snapshot() domain.PortfolioState {
	positions := make(map[string]domain.Position, len(l.positions))
	for sym, p := range l.positions {
		positions[sym] = *p
	}
	return domain.PortfolioState{
		Cash:          l.Cash(),
		Positions:     positions,
		EquityHistory: l.EquityHistory(),
	}
}
