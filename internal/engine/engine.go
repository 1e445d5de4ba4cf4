// Package engine runs backtests: it replays bars date by date, turns
// strategy signals into risk-bounded orders, executes them against a ledger
// and assembles the result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tradesim/internal/broker"
	"tradesim/internal/domain"
	"tradesim/internal/metrics"
	"tradesim/internal/strategy"
)

// State is the lifecycle state of an Engine run.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// RunConfig is the fully typed configuration of one backtest run.
type RunConfig struct {
	InitialCapital float64
	Instruments    []string
	Start          time.Time
	End            time.Time

	Strategy       string
	StrategyParams strategy.Params

	Risk RiskConfig

	// LiquidateAtEnd closes every open position at the last date's close.
	LiquidateAtEnd bool

	// SignalWorkers bounds concurrent signal generation within a date.
	// Values below 2 generate signals sequentially.
	SignalWorkers int

	// Benchmark, when set, is bought and held with the initial capital and
	// reported next to the strategy. It does not need to be an instrument.
	Benchmark string
}

// Validate checks everything that does not need a strategy registry.
func (c RunConfig) Validate() error {
	if !(c.InitialCapital > 0) || math.IsInf(c.InitialCapital, 0) {
		return fmt.Errorf("%w: initial capital must be positive, got %g", domain.ErrInvalidConfiguration, c.InitialCapital)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: instrument universe is empty", domain.ErrInvalidConfiguration)
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, sym := range c.Instruments {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("%w: blank instrument identifier", domain.ErrInvalidConfiguration)
		}
		if seen[sym] {
			return fmt.Errorf("%w: duplicate instrument %q", domain.ErrInvalidConfiguration, sym)
		}
		seen[sym] = true
	}
	if !c.Start.Before(c.End) {
		return fmt.Errorf("%w: start %s must be before end %s", domain.ErrInvalidConfiguration,
			c.Start.Format(time.DateOnly), c.End.Format(time.DateOnly))
	}
	if c.Strategy == "" {
		return fmt.Errorf("%w: no strategy selected", domain.ErrInvalidConfiguration)
	}
	if c.SignalWorkers < 0 {
		return fmt.Errorf("%w: signal workers must not be negative", domain.ErrInvalidConfiguration)
	}
	if c.Benchmark != strings.TrimSpace(c.Benchmark) {
		return fmt.Errorf("%w: benchmark %q has surrounding blanks", domain.ErrInvalidConfiguration, c.Benchmark)
	}
	return c.Risk.Validate()
}

// RunResult is the immutable outcome of a run.
type RunResult struct {
	Strategy          string               `json:"strategy"`
	InitialCapital    float64              `json:"initial_capital"`
	FinalEquity       float64              `json:"final_equity"`
	EquityHistory     []domain.EquityPoint `json:"equity_history"`
	Benchmark         []domain.EquityPoint `json:"benchmark,omitempty"`
	Trades            []domain.Trade       `json:"trades"`
	Metrics           metrics.Metrics      `json:"metrics"`
	UnexecutedSignals int                  `json:"unexecuted_signal_count"`
	Rejections        map[Rejection]int    `json:"rejections"`
	DataGaps          int                  `json:"data_gaps"`
	OpenPositions     []domain.Position    `json:"open_positions"`
	CommissionPaid    float64              `json:"commission_paid"`
	NoData            bool                 `json:"no_data"`
}

// Engine runs one configured backtest. Run may be called repeatedly; each
// call starts from a fresh ledger and risk state. An Engine is not safe for
// concurrent Run calls.
type Engine struct {
	cfg      RunConfig
	strategy strategy.Strategy
	universe []string
	logger   *slog.Logger

	state State
}

// NewEngine validates cfg, builds the configured strategy from registry and
// returns an Engine ready to run. All configuration errors wrap
// domain.ErrInvalidConfiguration.
func NewEngine(cfg RunConfig, registry *strategy.Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: no strategy registry", domain.ErrInvalidConfiguration)
	}
	strat, err := registry.New(cfg.Strategy, cfg.StrategyParams)
	if err != nil {
		return nil, fmt.Errorf("%w: strategy %q: %w", domain.ErrInvalidConfiguration, cfg.Strategy, err)
	}

	universe := append([]string(nil), cfg.Instruments...)
	sort.Strings(universe)

	return &Engine{
		cfg:      cfg,
		strategy: strat,
		universe: universe,
		logger:   logger.With("component", "engine", "strategy", cfg.Strategy),
	}, nil
}

// State returns the state of the most recent run.
func (e *Engine) State() State {
	return e.state
}

// Strategy returns the strategy the engine was built with.
func (e *Engine) Strategy() strategy.Strategy {
	return e.strategy
}

// instrumentSeries is one instrument's bars with dates normalised.
type instrumentSeries struct {
	symbol string
	bars   []domain.Bar
	index  map[time.Time]int
}

// run holds the mutable state of a single Run call.
type run struct {
	ledger *broker.Ledger
	risk   *RiskManager

	dates      []time.Time
	dateCursor int
	instCursor int

	lastClose  map[string]float64
	rejections map[Rejection]int
	unexecuted int
	gaps       int
}

// Run replays series over the configured date range. series maps each
// instrument to its bars in strictly increasing date order; bars before
// Start serve as warm-up history and bars after End are ignored. Only
// configuration errors and ledger invariant violations abort the run.
func (e *Engine) Run(ctx context.Context, series map[string][]domain.Bar) (*RunResult, error) {
	e.state = StateNotStarted

	inputs, bench, err := e.prepare(series)
	if err != nil {
		return nil, err
	}

	r := &run{
		ledger:     broker.NewLedger(e.cfg.InitialCapital),
		risk:       NewRiskManager(e.cfg.Risk, e.cfg.InitialCapital, e.logger),
		dates:      tradingDates(inputs, dateOf(e.cfg.Start), dateOf(e.cfg.End)),
		lastClose:  make(map[string]float64),
		rejections: make(map[Rejection]int),
	}

	e.state = StateRunning
	e.logger.Info("backtest started",
		"instruments", len(e.universe),
		"dates", len(r.dates),
		"start", e.cfg.Start.Format(time.DateOnly),
		"end", e.cfg.End.Format(time.DateOnly),
		"initial_capital", e.cfg.InitialCapital,
	)

	for r.dateCursor = 0; r.dateCursor < len(r.dates); r.dateCursor++ {
		if err := ctx.Err(); err != nil {
			e.state = StateNotStarted
			return nil, err
		}
		if err := e.step(ctx, r, inputs); err != nil {
			e.state = StateNotStarted
			return nil, err
		}
	}

	res := e.assemble(r, bench)
	e.state = StateCompleted
	e.logger.Info("backtest finished",
		"final_equity", res.FinalEquity,
		"trades", len(res.Trades),
		"unexecuted_signals", res.UnexecutedSignals,
		"data_gaps", res.DataGaps,
	)
	return res, nil
}

// prepare validates the input series and indexes bars by date. The
// benchmark series is nil when no benchmark is configured.
func (e *Engine) prepare(series map[string][]domain.Bar) ([]instrumentSeries, *instrumentSeries, error) {
	out := make([]instrumentSeries, 0, len(e.universe))
	for _, sym := range e.universe {
		s, err := indexSeries(sym, series[sym])
		if err != nil {
			return nil, nil, err
		}
		out = append(out, s)
	}
	if e.cfg.Benchmark == "" {
		return out, nil, nil
	}
	bench, err := indexSeries(e.cfg.Benchmark, series[e.cfg.Benchmark])
	if err != nil {
		return nil, nil, err
	}
	if len(bench.bars) == 0 {
		e.logger.Warn("benchmark has no bars", "benchmark", e.cfg.Benchmark)
	}
	return out, &bench, nil
}

// indexSeries checks that bars are in strictly increasing date order with
// positive finite prices and indexes them by date.
func indexSeries(sym string, bars []domain.Bar) (instrumentSeries, error) {
	s := instrumentSeries{
		symbol: sym,
		bars:   make([]domain.Bar, len(bars)),
		index:  make(map[time.Time]int, len(bars)),
	}
	for i, b := range bars {
		d := dateOf(b.Timestamp)
		if i > 0 && !d.After(s.bars[i-1].Timestamp) {
			return s, fmt.Errorf("%w: %s bars not strictly increasing at %s",
				domain.ErrInvalidConfiguration, sym, d.Format(time.DateOnly))
		}
		for _, px := range []float64{b.Open, b.High, b.Low, b.Close} {
			if !(px > 0) || math.IsInf(px, 0) {
				return s, fmt.Errorf("%w: %s bar on %s has price %g",
					domain.ErrInvalidConfiguration, sym, d.Format(time.DateOnly), px)
			}
		}
		b.Symbol = sym
		b.Timestamp = d
		s.bars[i] = b
		s.index[d] = i
	}
	return s, nil
}

// step processes one date: signals for every instrument with a bar, then
// sequential risk and execution in universe order, then one mark.
func (e *Engine) step(ctx context.Context, r *run, inputs []instrumentSeries) error {
	date := r.dates[r.dateCursor]
	last := r.dateCursor == len(r.dates)-1

	type slot struct {
		series *instrumentSeries
		pos    int
		sig    domain.Signal
	}
	slots := make([]slot, 0, len(inputs))
	closes := make(map[string]float64, len(inputs))
	for i := range inputs {
		in := &inputs[i]
		pos, ok := in.index[date]
		if !ok {
			r.gaps++
			continue
		}
		closes[in.symbol] = in.bars[pos].Close
		r.lastClose[in.symbol] = in.bars[pos].Close
		slots = append(slots, slot{series: in, pos: pos})
	}

	// Strategies only see bars up to and including date, and the capacity
	// cap keeps them from reslicing past it.
	generate := func(k int) {
		s := &slots[k]
		s.sig = e.strategy.Generate(s.series.symbol, s.series.bars[:s.pos+1:s.pos+1])
		s.sig.Symbol = s.series.symbol
		s.sig.Date = date
	}
	if e.cfg.SignalWorkers > 1 && len(slots) > 1 {
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.SignalWorkers)
		for k := range slots {
			g.Go(func() error {
				generate(k)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for k := range slots {
			generate(k)
		}
	}

	for r.instCursor = 0; r.instCursor < len(slots); r.instCursor++ {
		s := slots[r.instCursor]
		bar := s.series.bars[s.pos]
		history := s.series.bars[:s.pos+1 : s.pos+1]

		d := r.risk.Authorize(s.sig, bar, history, r.ledger, closes)
		if d.Rejection != "" {
			r.unexecuted++
			r.rejections[d.Rejection]++
			continue
		}
		if d.Order == nil {
			continue
		}
		if err := e.execute(r, *d.Order, date); err != nil {
			return err
		}
	}

	if last && e.cfg.LiquidateAtEnd {
		if err := e.liquidate(r, date); err != nil {
			return err
		}
	}

	pt := r.ledger.MarkToMarket(date, closes)
	r.risk.Observe(pt)
	return nil
}

func (e *Engine) execute(r *run, order domain.Order, date time.Time) error {
	trade, err := r.ledger.Execute(order, date)
	if err != nil {
		return fmt.Errorf("executing %s %s on %s: %w",
			order.Side, order.Symbol, date.Format(time.DateOnly), err)
	}
	if trade != nil {
		e.logger.Debug("position closed",
			"symbol", trade.Symbol,
			"date", date.Format(time.DateOnly),
			"qty", trade.Quantity,
			"exit_price", trade.ExitPrice,
			"pnl", trade.RealizedPnL,
			"reason", string(trade.ExitReason),
		)
	} else {
		e.logger.Debug("position opened",
			"symbol", order.Symbol,
			"date", date.Format(time.DateOnly),
			"qty", order.Quantity,
			"price", order.ExecutionPrice(),
		)
	}
	return nil
}

// liquidate closes every open position at its last known close.
func (e *Engine) liquidate(r *run, date time.Time) error {
	for _, pos := range r.ledger.Positions() {
		px, ok := r.lastClose[pos.Symbol]
		if !ok {
			px = pos.AvgEntryPrice
		}
		order := domain.Order{
			Symbol:        pos.Symbol,
			Side:          domain.SideSell,
			Quantity:      pos.Quantity,
			Price:         px,
			CommissionPct: e.cfg.Risk.CommissionPct,
			SlippagePct:   e.cfg.Risk.SlippagePct,
			Reason:        domain.ExitEndOfRun,
		}
		if err := e.execute(r, order, date); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) assemble(r *run, bench *instrumentSeries) *RunResult {
	equity := r.ledger.EquityHistory()
	trades := r.ledger.Trades()
	res := &RunResult{
		Strategy:          e.strategy.Name(),
		InitialCapital:    e.cfg.InitialCapital,
		FinalEquity:       e.cfg.InitialCapital,
		EquityHistory:     equity,
		Trades:            trades,
		UnexecutedSignals: r.unexecuted,
		Rejections:        r.rejections,
		DataGaps:          r.gaps,
		OpenPositions:     r.ledger.Positions(),
		CommissionPaid:    r.ledger.CommissionPaid(),
		NoData:            len(equity) == 0,
	}
	if res.NoData {
		res.Metrics = metrics.NoData()
		if bench != nil {
			metrics.AddBenchmark(res.Metrics, nil, nil)
		}
		return res
	}
	res.FinalEquity = equity[len(equity)-1].Equity
	res.Metrics = metrics.Compute(equity, trades)
	if bench != nil {
		res.Benchmark = benchmarkCurve(bench, equity, e.cfg.InitialCapital)
		metrics.AddBenchmark(res.Metrics, equity, res.Benchmark)
	}
	return res
}

// benchmarkCurve values a buy-and-hold of the benchmark on every equity
// date. The initial capital buys fractional units at the close in effect on
// the first date. Dates before the benchmark's first bar use that bar's
// close and later gaps carry the last close forward.
func benchmarkCurve(bench *instrumentSeries, equity []domain.EquityPoint, capital float64) []domain.EquityPoint {
	if len(bench.bars) == 0 || len(equity) == 0 {
		return nil
	}
	closeOn := func(date time.Time) float64 {
		i := sort.Search(len(bench.bars), func(i int) bool { return bench.bars[i].Timestamp.After(date) })
		if i == 0 {
			return bench.bars[0].Close
		}
		return bench.bars[i-1].Close
	}
	units := capital / closeOn(equity[0].Date)
	out := make([]domain.EquityPoint, len(equity))
	for i, pt := range equity {
		out[i] = domain.EquityPoint{Date: pt.Date, Equity: units * closeOn(pt.Date)}
	}
	return out
}

// tradingDates returns the sorted union of bar dates within [start, end].
func tradingDates(inputs []instrumentSeries, start, end time.Time) []time.Time {
	set := make(map[time.Time]struct{})
	for _, in := range inputs {
		for _, b := range in.bars {
			if b.Timestamp.Before(start) || b.Timestamp.After(end) {
				continue
			}
			set[b.Timestamp] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// dateOf truncates t to its calendar date in UTC, keeping the calendar day
// of t's own location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
