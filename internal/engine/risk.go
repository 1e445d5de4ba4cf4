package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"tradesim/internal/broker"
	"tradesim/internal/domain"
)

// RiskConfig holds the risk options of a run. A zero value disables the
// corresponding constraint.
type RiskConfig struct {
	MaxPositionSizePct  float64 `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	StopLossPct         float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	MaxRiskPerTradePct  float64 `yaml:"max_risk_per_trade_pct" json:"max_risk_per_trade_pct"`
	TrendFilterLookback int     `yaml:"trend_filter_lookback" json:"trend_filter_lookback"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	CommissionPct       float64 `yaml:"commission_pct" json:"commission_pct"`
	SlippagePct         float64 `yaml:"slippage_pct" json:"slippage_pct"`

	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions"`
	AllowPyramiding  bool    `yaml:"allow_pyramiding" json:"allow_pyramiding"`
	TrailingStopPct  float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
}

// Validate rejects negative options, fractions outside [0, 1) and a
// per-trade risk budget without a stop distance to size against.
func (c RiskConfig) Validate() error {
	fractions := []struct {
		name string
		v    float64
	}{
		{"stop_loss_pct", c.StopLossPct},
		{"max_risk_per_trade_pct", c.MaxRiskPerTradePct},
		{"max_drawdown_pct", c.MaxDrawdownPct},
		{"max_daily_loss_pct", c.MaxDailyLossPct},
		{"commission_pct", c.CommissionPct},
		{"slippage_pct", c.SlippagePct},
		{"trailing_stop_pct", c.TrailingStopPct},
	}
	for _, f := range fractions {
		if f.v < 0 || f.v >= 1 || math.IsNaN(f.v) {
			return fmt.Errorf("%w: risk %s must be in [0, 1), got %g", domain.ErrInvalidConfiguration, f.name, f.v)
		}
	}
	if c.MaxPositionSizePct < 0 || c.MaxPositionSizePct > 1 || math.IsNaN(c.MaxPositionSizePct) {
		return fmt.Errorf("%w: risk max_position_size_pct must be in [0, 1], got %g",
			domain.ErrInvalidConfiguration, c.MaxPositionSizePct)
	}
	if c.TakeProfitPct < 0 || math.IsNaN(c.TakeProfitPct) {
		return fmt.Errorf("%w: risk take_profit_pct must not be negative, got %g",
			domain.ErrInvalidConfiguration, c.TakeProfitPct)
	}
	if c.TrendFilterLookback < 0 {
		return fmt.Errorf("%w: risk trend_filter_lookback must not be negative, got %d",
			domain.ErrInvalidConfiguration, c.TrendFilterLookback)
	}
	if c.MaxOpenPositions < 0 {
		return fmt.Errorf("%w: risk max_open_positions must not be negative, got %d",
			domain.ErrInvalidConfiguration, c.MaxOpenPositions)
	}
	if c.MaxRiskPerTradePct > 0 && c.StopLossPct == 0 {
		return fmt.Errorf("%w: risk max_risk_per_trade_pct requires stop_loss_pct", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Rejection names why a signal produced no order.
type Rejection string

const (
	RejectHold              Rejection = "hold"
	RejectZeroQuantity      Rejection = "zero_quantity"
	RejectInsufficientCash  Rejection = "insufficient_cash"
	RejectDrawdownHalt      Rejection = "max_drawdown"
	RejectDailyLossHalt     Rejection = "max_daily_loss"
	RejectTrendFilter       Rejection = "trend_filter"
	RejectMaxOpenPositions  Rejection = "max_open_positions"
	RejectPositionAlreadyOn Rejection = "position_open"
)

// Decision is the outcome of authorizing one signal. At most one of Order
// and Rejection is set; both empty means nothing to do, which only happens
// for an EXIT with no position open.
type Decision struct {
	Order     *domain.Order
	Rejection Rejection
}

// RiskManager turns signals into sized orders. It holds run-scoped kill
// switch state, so a fresh RiskManager is needed for each run.
type RiskManager struct {
	cfg    RiskConfig
	logger *slog.Logger

	peak          float64
	lastEquity    float64
	drawdownHalt  bool
	dailyHaltDate time.Time
}

// NewRiskManager creates a RiskManager for a run starting with
// initialCapital.
func NewRiskManager(cfg RiskConfig, initialCapital float64, logger *slog.Logger) *RiskManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskManager{
		cfg:        cfg,
		logger:     logger.With("component", "risk"),
		peak:       initialCapital,
		lastEquity: initialCapital,
	}
}

// Observe feeds a recorded equity point into the kill switches. The engine
// calls it once per date after mark-to-market.
func (rm *RiskManager) Observe(pt domain.EquityPoint) {
	rm.checkDrawdown(pt.Equity, pt.Date)
	rm.lastEquity = pt.Equity
}

// Halted reports whether the drawdown kill switch has latched.
func (rm *RiskManager) Halted() bool {
	return rm.drawdownHalt
}

// Authorize evaluates sig against the current bar and book. closes holds the
// closes of every instrument with a bar on the signal's date and is used to
// value the book for sizing and kill switches.
func (rm *RiskManager) Authorize(
	sig domain.Signal,
	bar domain.Bar,
	history []domain.Bar,
	book broker.Broker,
	closes map[string]float64,
) Decision {
	pos, held := book.Position(sig.Symbol)

	// Protective exits take precedence over whatever the strategy says.
	if held {
		if reason, hit := protectiveExit(pos, bar); hit {
			return Decision{Order: rm.exitOrder(pos, bar.Close, reason)}
		}
	}

	switch sig.Direction {
	case domain.DirectionExit:
		if !held {
			return Decision{}
		}
		return Decision{Order: rm.exitOrder(pos, bar.Close, domain.ExitSignal)}
	case domain.DirectionEnter:
		return rm.authorizeEntry(sig, bar, history, book, closes, pos, held)
	default:
		return Decision{Rejection: RejectHold}
	}
}

func protectiveExit(pos domain.Position, bar domain.Bar) (domain.ExitReason, bool) {
	if pos.StopPrice > 0 && bar.Low <= pos.StopPrice {
		return domain.ExitStopLoss, true
	}
	if pos.TargetPrice > 0 && bar.High >= pos.TargetPrice {
		return domain.ExitTakeProfit, true
	}
	return "", false
}

func (rm *RiskManager) exitOrder(pos domain.Position, price float64, reason domain.ExitReason) *domain.Order {
	return &domain.Order{
		Symbol:        pos.Symbol,
		Side:          domain.SideSell,
		Quantity:      pos.Quantity,
		Price:         price,
		CommissionPct: rm.cfg.CommissionPct,
		SlippagePct:   rm.cfg.SlippagePct,
		Reason:        reason,
	}
}

func (rm *RiskManager) authorizeEntry(
	sig domain.Signal,
	bar domain.Bar,
	history []domain.Bar,
	book broker.Broker,
	closes map[string]float64,
	pos domain.Position,
	held bool,
) Decision {
	equity := book.Equity(closes)

	if r := rm.killSwitch(sig.Date, equity); r != "" {
		return rm.reject(sig, r)
	}
	if rm.trendOpposes(history) {
		return rm.reject(sig, RejectTrendFilter)
	}
	if held && !rm.cfg.AllowPyramiding {
		return rm.reject(sig, RejectPositionAlreadyOn)
	}
	if !held && rm.cfg.MaxOpenPositions > 0 && len(book.Positions()) >= rm.cfg.MaxOpenPositions {
		return rm.reject(sig, RejectMaxOpenPositions)
	}

	price := bar.Close
	execPx := price * (1 + rm.cfg.SlippagePct)
	qty := rm.size(price, execPx, equity, book.Cash(), pos.Quantity)
	if qty <= 0 {
		return rm.reject(sig, RejectZeroQuantity)
	}

	order := &domain.Order{
		Symbol:        sig.Symbol,
		Side:          domain.SideBuy,
		Quantity:      qty,
		Price:         price,
		CommissionPct: rm.cfg.CommissionPct,
		SlippagePct:   rm.cfg.SlippagePct,
		TrailingPct:   rm.cfg.TrailingStopPct,
	}
	if rm.cfg.StopLossPct > 0 {
		order.StopPrice = execPx * (1 - rm.cfg.StopLossPct)
	} else if rm.cfg.TrailingStopPct > 0 {
		order.StopPrice = execPx * (1 - rm.cfg.TrailingStopPct)
	}
	if rm.cfg.TakeProfitPct > 0 {
		order.TargetPrice = execPx * (1 + rm.cfg.TakeProfitPct)
	}

	if !book.CanAfford(*order) {
		return rm.reject(sig, RejectInsufficientCash)
	}
	return Decision{Order: order}
}

// killSwitch checks the drawdown and daily-loss limits against equity and
// latches them. Drawdown halts entries for the rest of the run, daily loss
// for the rest of the date.
func (rm *RiskManager) killSwitch(date time.Time, equity float64) Rejection {
	rm.checkDrawdown(equity, date)
	if rm.drawdownHalt {
		return RejectDrawdownHalt
	}

	if !rm.dailyHaltDate.IsZero() && rm.dailyHaltDate.Equal(date) {
		return RejectDailyLossHalt
	}
	if rm.cfg.MaxDailyLossPct > 0 && rm.lastEquity > 0 {
		loss := (rm.lastEquity - equity) / rm.lastEquity
		if loss >= rm.cfg.MaxDailyLossPct {
			rm.dailyHaltDate = date
			rm.logger.Info("daily loss limit reached",
				"date", date.Format(time.DateOnly), "loss_pct", loss)
			return RejectDailyLossHalt
		}
	}
	return ""
}

func (rm *RiskManager) checkDrawdown(equity float64, date time.Time) {
	if equity > rm.peak {
		rm.peak = equity
	}
	if rm.drawdownHalt || rm.cfg.MaxDrawdownPct <= 0 || rm.peak <= 0 {
		return
	}
	if dd := (rm.peak - equity) / rm.peak; dd >= rm.cfg.MaxDrawdownPct {
		rm.drawdownHalt = true
		rm.logger.Info("drawdown limit reached, entries halted",
			"date", date.Format(time.DateOnly), "drawdown", dd, "peak", rm.peak, "equity", equity)
	}
}

// trendOpposes reports whether the close has fallen over the lookback
// window. With fewer than lookback+1 bars the filter does not apply.
func (rm *RiskManager) trendOpposes(history []domain.Bar) bool {
	lb := rm.cfg.TrendFilterLookback
	n := len(history)
	if lb <= 0 || n <= lb {
		return false
	}
	return history[n-1].Close < history[n-1-lb].Close
}

// size returns the whole-unit entry quantity: the smallest enabled cap, or
// everything cash can buy when no cap is enabled. held is the quantity
// already in the position, which counts against the position-size cap.
func (rm *RiskManager) size(price, execPx, equity, cash, held float64) float64 {
	qty := math.Inf(1)
	capped := false
	if rm.cfg.MaxPositionSizePct > 0 {
		qty = math.Min(qty, rm.cfg.MaxPositionSizePct*equity/price-held)
		capped = true
	}
	if rm.cfg.MaxRiskPerTradePct > 0 && rm.cfg.StopLossPct > 0 {
		qty = math.Min(qty, rm.cfg.MaxRiskPerTradePct*equity/(price*rm.cfg.StopLossPct))
		capped = true
	}
	if !capped {
		qty = cash / (execPx * (1 + rm.cfg.CommissionPct))
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0
	}
	return math.Floor(qty)
}

func (rm *RiskManager) reject(sig domain.Signal, r Rejection) Decision {
	rm.logger.Debug("entry rejected",
		"symbol", sig.Symbol, "date", sig.Date.Format(time.DateOnly), "reason", string(r))
	return Decision{Rejection: r}
}
