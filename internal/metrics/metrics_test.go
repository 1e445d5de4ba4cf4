package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"tradesim/internal/domain"
)

func curve(values ...float64) []domain.EquityPoint {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]domain.EquityPoint, len(values))
	for i, v := range values {
		out[i] = domain.EquityPoint{Date: start.AddDate(0, 0, i), Equity: v, Cash: v}
	}
	return out
}

func trades(pnls ...float64) []domain.Trade {
	out := make([]domain.Trade, len(pnls))
	for i, p := range pnls {
		out[i] = domain.Trade{Symbol: "AAA", RealizedPnL: p}
	}
	return out
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompute_NoData(t *testing.T) {
	m := Compute(nil, nil)
	for _, k := range []string{TotalReturn, CAGR, Sharpe, MaxDrawdown, WinRate, ProfitFactor} {
		if !math.IsNaN(m[k]) {
			t.Errorf("%s = %v, want NaN", k, m[k])
		}
	}
	if m[TotalTrades] != 0 || m[Periods] != 0 {
		t.Errorf("counts = %v/%v, want 0/0", m[TotalTrades], m[Periods])
	}
}

func TestCompute_SinglePoint(t *testing.T) {
	m := Compute(curve(1000), nil)
	if m[TotalReturn] != 0 {
		t.Errorf("total_return = %v, want 0", m[TotalReturn])
	}
	if !math.IsNaN(m[Sharpe]) || !math.IsNaN(m[CAGR]) {
		t.Errorf("sharpe %v cagr %v, want NaN with one point", m[Sharpe], m[CAGR])
	}
	if m[MaxDrawdown] != 0 {
		t.Errorf("max_drawdown = %v, want 0", m[MaxDrawdown])
	}
}

func TestCompute_FlatCurve(t *testing.T) {
	m := Compute(curve(1000, 1000, 1000, 1000), nil)
	if !math.IsNaN(m[Sharpe]) {
		t.Errorf("sharpe = %v, want NaN for zero variance", m[Sharpe])
	}
	if m[Volatility] != 0 {
		t.Errorf("volatility = %v, want 0", m[Volatility])
	}
	if m[CAGR] != 0 || m[TotalReturn] != 0 {
		t.Errorf("cagr %v total_return %v, want 0", m[CAGR], m[TotalReturn])
	}
	if !math.IsNaN(m[Calmar]) {
		t.Errorf("calmar = %v, want NaN without drawdown", m[Calmar])
	}
}

func TestCompute_MaxDrawdown(t *testing.T) {
	// Peak 120, trough 90: 25%. The later dip from 130 to 117 is only 10%.
	m := Compute(curve(100, 120, 90, 130, 117), nil)
	if !near(m[MaxDrawdown], 0.25) {
		t.Errorf("max_drawdown = %v, want 0.25", m[MaxDrawdown])
	}
	if !near(m[TotalReturn], 0.17) {
		t.Errorf("total_return = %v, want 0.17", m[TotalReturn])
	}
	if m[Periods] != 5 {
		t.Errorf("periods = %v, want 5", m[Periods])
	}
}

func TestCompute_SharpeAndCAGR(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	eq := []domain.EquityPoint{
		{Date: start, Equity: 100},
		{Date: start.AddDate(0, 0, 1), Equity: 110},
		{Date: start.AddDate(0, 0, 2), Equity: 99},
		{Date: start.AddDate(0, 0, 3), Equity: 108.9},
	}
	m := Compute(eq, nil)

	// Returns 0.1, -0.1, 0.1.
	mean := 0.1 / 3
	std := math.Sqrt((2*math.Pow(0.1-mean, 2) + math.Pow(-0.1-mean, 2)) / 2)
	years := 3 / 365.25
	ppy := 3 / years
	if want := mean / std * math.Sqrt(ppy); !near(m[Sharpe], want) {
		t.Errorf("sharpe = %v, want %v", m[Sharpe], want)
	}
	if want := std * math.Sqrt(ppy); !near(m[Volatility], want) {
		t.Errorf("volatility = %v, want %v", m[Volatility], want)
	}
	downside := math.Sqrt(0.01 / 3)
	if want := mean / downside * math.Sqrt(ppy); !near(m[Sortino], want) {
		t.Errorf("sortino = %v, want %v", m[Sortino], want)
	}
	if want := math.Pow(1.089, 1/years) - 1; math.Abs(m[CAGR]-want) > 1e-6*want {
		t.Errorf("cagr = %v, want %v", m[CAGR], want)
	}
	if want := m[CAGR] / 0.1; math.Abs(m[Calmar]-want) > 1e-6*want {
		t.Errorf("calmar = %v, want %v", m[Calmar], want)
	}
}

func TestCompute_Trades(t *testing.T) {
	tests := []struct {
		name    string
		pnls    []float64
		winRate float64
		pf      float64
		avg     float64
	}{
		{"mixed", []float64{30, -10, 20, -10}, 0.5, 2.5, 7.5},
		{"no losses", []float64{5, 15}, 1, math.Inf(1), 10},
		{"all losses", []float64{-4, -6}, 0, 0, -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compute(curve(1000, 1000), trades(tt.pnls...))
			if !near(m[WinRate], tt.winRate) {
				t.Errorf("win_rate = %v, want %v", m[WinRate], tt.winRate)
			}
			if m[ProfitFactor] != tt.pf && !near(m[ProfitFactor], tt.pf) {
				t.Errorf("profit_factor = %v, want %v", m[ProfitFactor], tt.pf)
			}
			if !near(m[AvgTradePnL], tt.avg) {
				t.Errorf("avg_trade_pnl = %v, want %v", m[AvgTradePnL], tt.avg)
			}
			if m[TotalTrades] != float64(len(tt.pnls)) {
				t.Errorf("total_trades = %v, want %d", m[TotalTrades], len(tt.pnls))
			}
		})
	}

	m := Compute(curve(1000, 1000), nil)
	if !math.IsNaN(m[WinRate]) || !math.IsNaN(m[ProfitFactor]) {
		t.Errorf("empty ledger: win_rate %v profit_factor %v, want NaN", m[WinRate], m[ProfitFactor])
	}
}

func TestCompute_Pure(t *testing.T) {
	eq := curve(100, 105, 101, 110)
	tr := trades(3, -1)
	a, _ := json.Marshal(Compute(eq, tr))
	b, _ := json.Marshal(Compute(eq, tr))
	if string(a) != string(b) {
		t.Errorf("Compute not reproducible:\n%s\n%s", a, b)
	}
	if eq[1].Equity != 105 || tr[0].RealizedPnL != 3 {
		t.Error("Compute mutated its inputs")
	}
}

func TestMetricsMarshalJSON(t *testing.T) {
	m := Metrics{"b": 1.5, "a": math.NaN(), "c": math.Inf(1)}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(data), `{"a":null,"b":1.5,"c":"Infinity"}`; got != want {
		t.Errorf("Marshal = %s, want %s", got, want)
	}
	if m.Defined("a") || !m.Defined("b") || m.Defined("missing") {
		t.Error("Defined() disagrees with values")
	}
}

func TestMetricsMarshalJSON_KeepsUnboundedApart(t *testing.T) {
	noLoss, _ := json.Marshal(Compute(curve(100, 110), trades(5, 5)))
	noTrades, _ := json.Marshal(Compute(curve(100, 110), nil))

	var a, b map[string]any
	if err := json.Unmarshal(noLoss, &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(noTrades, &b); err != nil {
		t.Fatal(err)
	}
	if a[ProfitFactor] != "Infinity" {
		t.Errorf("profit_factor without losses = %v, want \"Infinity\"", a[ProfitFactor])
	}
	if b[ProfitFactor] != nil {
		t.Errorf("profit_factor without trades = %v, want null", b[ProfitFactor])
	}
	neg, _ := json.Marshal(Metrics{"x": math.Inf(-1)})
	if string(neg) != `{"x":"-Infinity"}` {
		t.Errorf("Marshal(-Inf) = %s", neg)
	}
}

func TestCompute_RecoveryFactor(t *testing.T) {
	// Total return 30%, worst drawdown 120 -> 90 = 25%.
	m := Compute(curve(100, 120, 90, 130), nil)
	if !near(m[Recovery], 0.3/0.25) {
		t.Errorf("recovery_factor = %v, want %v", m[Recovery], 0.3/0.25)
	}
	if m := Compute(curve(100, 110, 120), nil); !math.IsNaN(m[Recovery]) {
		t.Errorf("recovery_factor without drawdown = %v, want NaN", m[Recovery])
	}
	if !math.IsNaN(NoData()[Recovery]) {
		t.Error("NoData recovery_factor should be NaN")
	}
}

// compound builds a daily curve starting at start and growing by each
// return in turn.
func compound(start float64, returns ...float64) []domain.EquityPoint {
	values := []float64{start}
	for _, r := range returns {
		values = append(values, values[len(values)-1]*(1+r))
	}
	return curve(values...)
}

func TestAddBenchmark(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.03, 0.01, -0.005}
	// One return per calendar day annualises over 365.25 periods.
	const ppy = daysPerYear

	t.Run("same curve", func(t *testing.T) {
		eq := compound(1000, bench...)
		m := Compute(eq, nil)
		AddBenchmark(m, eq, eq)
		if !near(m[Beta], 1) || !near(m[Alpha], 0) {
			t.Errorf("beta %v alpha %v, want 1 and 0", m[Beta], m[Alpha])
		}
		if !math.IsNaN(m[InformationRatio]) {
			t.Errorf("information_ratio = %v, want NaN without tracking error", m[InformationRatio])
		}
		if !near(m[BenchmarkReturn], m[TotalReturn]) {
			t.Errorf("benchmark_return %v != total_return %v", m[BenchmarkReturn], m[TotalReturn])
		}
	})

	t.Run("levered", func(t *testing.T) {
		levered := make([]float64, len(bench))
		for i, r := range bench {
			levered[i] = 2 * r
		}
		m := Metrics{}
		AddBenchmark(m, compound(1000, levered...), compound(500, bench...))
		if !near(m[Beta], 2) || !near(m[Alpha], 0) {
			t.Errorf("beta %v alpha %v, want 2 and 0", m[Beta], m[Alpha])
		}
		mean, std := meanStd(bench)
		if want := mean / std * math.Sqrt(ppy); !near(m[InformationRatio], want) {
			t.Errorf("information_ratio = %v, want %v", m[InformationRatio], want)
		}
	})

	t.Run("constant edge", func(t *testing.T) {
		edged := make([]float64, len(bench))
		for i, r := range bench {
			edged[i] = r + 0.001
		}
		m := Metrics{}
		AddBenchmark(m, compound(1000, edged...), compound(1000, bench...))
		if !near(m[Beta], 1) {
			t.Errorf("beta = %v, want 1", m[Beta])
		}
		if !near(m[Alpha], 0.001*ppy) {
			t.Errorf("alpha = %v, want %v", m[Alpha], 0.001*ppy)
		}
	})

	t.Run("unpaired dates", func(t *testing.T) {
		eq := compound(1000, bench...)
		m := Metrics{}
		AddBenchmark(m, eq, eq[:2])
		for _, k := range []string{Beta, Alpha, InformationRatio} {
			if !math.IsNaN(m[k]) {
				t.Errorf("%s = %v, want NaN with one paired return", k, m[k])
			}
		}
		if !near(m[BenchmarkReturn], eq[1].Equity/eq[0].Equity-1) {
			t.Errorf("benchmark_return = %v", m[BenchmarkReturn])
		}
	})

	t.Run("empty", func(t *testing.T) {
		m := Metrics{}
		AddBenchmark(m, nil, nil)
		for _, k := range []string{BenchmarkReturn, Beta, Alpha, InformationRatio} {
			if v, ok := m[k]; !ok || !math.IsNaN(v) {
				t.Errorf("%s = %v (present %v), want NaN", k, v, ok)
			}
		}
	})
}
