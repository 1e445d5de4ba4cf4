// Package metrics derives performance statistics from a finished equity
// curve and trade ledger. Every function here is pure.
package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"

	"tradesim/internal/domain"
)

// Metric names.
const (
	TotalReturn  = "total_return"
	CAGR         = "cagr"
	Volatility   = "volatility"
	Sharpe       = "sharpe_ratio"
	Sortino      = "sortino_ratio"
	MaxDrawdown  = "max_drawdown"
	Calmar       = "calmar_ratio"
	Recovery     = "recovery_factor"
	WinRate      = "win_rate"
	ProfitFactor = "profit_factor"
	AvgTradePnL  = "avg_trade_pnl"
	TotalTrades  = "total_trades"
	Periods      = "periods"
)

// Benchmark metric names. They are only present after AddBenchmark.
const (
	BenchmarkReturn  = "benchmark_return"
	Beta             = "beta"
	Alpha            = "alpha"
	InformationRatio = "information_ratio"
)

// defaultPeriodsPerYear annualises returns when the equity curve spans no
// calendar time.
const defaultPeriodsPerYear = 252

const daysPerYear = 365.25

// Metrics is a flat mapping of metric name to value. Undefined statistics
// hold NaN. Unbounded ones, such as the profit factor of a ledger without a
// losing trade, hold +Inf.
type Metrics map[string]float64

// Compute derives all metrics from equity and trades.
func Compute(equity []domain.EquityPoint, trades []domain.Trade) Metrics {
	m := NoData()
	m[Periods] = float64(len(equity))
	fillTrades(m, trades)
	if len(equity) == 0 {
		return m
	}

	first, last := equity[0], equity[len(equity)-1]
	if first.Equity > 0 {
		m[TotalReturn] = last.Equity/first.Equity - 1
	}

	years := last.Date.Sub(first.Date).Hours() / 24 / daysPerYear
	if years > 0 && first.Equity > 0 {
		if last.Equity <= 0 {
			m[CAGR] = -1
		} else {
			m[CAGR] = math.Pow(last.Equity/first.Equity, 1/years) - 1
		}
	}

	m[MaxDrawdown] = maxDrawdown(equity)
	if dd := m[MaxDrawdown]; dd > 0 {
		if !math.IsNaN(m[CAGR]) {
			m[Calmar] = m[CAGR] / dd
		}
		if !math.IsNaN(m[TotalReturn]) {
			m[Recovery] = m[TotalReturn] / dd
		}
	}

	returns := periodicReturns(equity)
	if len(returns) < 2 {
		return m
	}
	mean, std := meanStd(returns)
	ann := math.Sqrt(periodsPerYear(equity, len(returns)))
	m[Volatility] = std * ann
	if std > 0 {
		m[Sharpe] = mean / std * ann
	}
	if dd := downsideDeviation(returns); dd > 0 {
		m[Sortino] = mean / dd * ann
	}
	return m
}

// NoData returns the metrics of a run that processed no bars.
func NoData() Metrics {
	nan := math.NaN()
	return Metrics{
		TotalReturn:  nan,
		CAGR:         nan,
		Volatility:   nan,
		Sharpe:       nan,
		Sortino:      nan,
		MaxDrawdown:  nan,
		Calmar:       nan,
		Recovery:     nan,
		WinRate:      nan,
		ProfitFactor: nan,
		AvgTradePnL:  nan,
		TotalTrades:  0,
		Periods:      0,
	}
}

func fillTrades(m Metrics, trades []domain.Trade) {
	m[TotalTrades] = float64(len(trades))
	if len(trades) == 0 {
		return
	}
	var wins int
	var gross, profit, loss float64
	for _, t := range trades {
		gross += t.RealizedPnL
		switch {
		case t.RealizedPnL > 0:
			wins++
			profit += t.RealizedPnL
		case t.RealizedPnL < 0:
			loss -= t.RealizedPnL
		}
	}
	n := float64(len(trades))
	m[WinRate] = float64(wins) / n
	m[AvgTradePnL] = gross / n
	switch {
	case loss > 0:
		m[ProfitFactor] = profit / loss
	case profit > 0:
		m[ProfitFactor] = math.Inf(1)
	}
}

// AddBenchmark adds metrics comparing equity with a benchmark curve to m.
// Returns are paired on dates present in both curves. Alpha is annualised
// with a zero risk-free rate, and the information ratio is the annualised
// mean active return over its standard deviation.
func AddBenchmark(m Metrics, equity, benchmark []domain.EquityPoint) {
	nan := math.NaN()
	m[BenchmarkReturn], m[Beta], m[Alpha], m[InformationRatio] = nan, nan, nan, nan
	if len(benchmark) > 0 && benchmark[0].Equity > 0 {
		m[BenchmarkReturn] = benchmark[len(benchmark)-1].Equity/benchmark[0].Equity - 1
	}

	byDate := make(map[time.Time]float64, len(benchmark))
	for _, pt := range benchmark {
		byDate[pt.Date] = pt.Equity
	}
	var port, bench []float64
	for i := 1; i < len(equity); i++ {
		prev, cur := equity[i-1], equity[i]
		bPrev, ok1 := byDate[prev.Date]
		bCur, ok2 := byDate[cur.Date]
		if !ok1 || !ok2 || prev.Equity <= 0 || bPrev <= 0 {
			continue
		}
		port = append(port, cur.Equity/prev.Equity-1)
		bench = append(bench, bCur/bPrev-1)
	}
	if len(port) < 2 {
		return
	}

	ppy := periodsPerYear(equity, len(port))
	pMean, _ := meanStd(port)
	bMean, bStd := meanStd(bench)
	if bStd > 0 {
		beta := covariance(port, bench, pMean, bMean) / (bStd * bStd)
		m[Beta] = beta
		m[Alpha] = (pMean - beta*bMean) * ppy
	}

	active := make([]float64, len(port))
	for i := range port {
		active[i] = port[i] - bench[i]
	}
	if aMean, aStd := meanStd(active); aStd > 0 {
		m[InformationRatio] = aMean / aStd * math.Sqrt(ppy)
	}
}

// periodsPerYear returns how many of n returns fall in a year of the
// curve's calendar span.
func periodsPerYear(equity []domain.EquityPoint, n int) float64 {
	years := equity[len(equity)-1].Date.Sub(equity[0].Date).Hours() / 24 / daysPerYear
	if years <= 0 {
		return defaultPeriodsPerYear
	}
	return float64(n) / years
}

// covariance returns the sample covariance of xs and ys given their means.
func covariance(xs, ys []float64, xMean, yMean float64) float64 {
	var s float64
	for i := range xs {
		s += (xs[i] - xMean) * (ys[i] - yMean)
	}
	return s / float64(len(xs)-1)
}

// maxDrawdown returns the largest peak-to-trough decline as a positive
// fraction of the peak.
func maxDrawdown(equity []domain.EquityPoint) float64 {
	var peak, worst float64
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodicReturns(equity []domain.EquityPoint) []float64 {
	out := make([]float64, 0, len(equity))
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		out = append(out, equity[i].Equity/prev-1)
	}
	return out
}

// meanStd returns the mean and sample standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	var ss float64
	for _, x := range xs {
		if x < 0 {
			ss += x * x
		}
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// MarshalJSON writes metrics with sorted keys. NaN becomes null and
// infinities become the strings "Infinity" and "-Infinity", since JSON has
// no number for either.
func (m Metrics) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v := m[k]
		switch {
		case math.IsNaN(v):
			buf.WriteString("null")
			continue
		case math.IsInf(v, 1):
			buf.WriteString(`"Infinity"`)
			continue
		case math.IsInf(v, -1):
			buf.WriteString(`"-Infinity"`)
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Defined reports whether metric name holds a finite value.
func (m Metrics) Defined(name string) bool {
	v, ok := m[name]
	return ok && !math.IsNaN(v) && !math.IsInf(v, 0)
}
