package report

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/metrics"
)

func TestFormatInt(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-45000, "-45,000"},
	}
	for _, tt := range tests {
		if got := FormatInt(tt.n); got != tt.want {
			t.Errorf("FormatInt(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{1000, "1,000.00"},
		{12.345, "12.35"},
		{-30, "-30.00"},
		{0.004, "0.00"},
		{math.NaN(), "-"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.v); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFormatPctRatioQty(t *testing.T) {
	if got := FormatPct(0.1234); got != "+12.34%" {
		t.Errorf("FormatPct = %q", got)
	}
	if got := FormatPct(math.NaN()); got != "-" {
		t.Errorf("FormatPct(NaN) = %q", got)
	}
	if got := FormatRatio(math.Inf(1)); got != "inf" {
		t.Errorf("FormatRatio(+Inf) = %q", got)
	}
	if got := FormatRatio(1.456); got != "1.46" {
		t.Errorf("FormatRatio = %q", got)
	}
	if got := FormatQty(76); got != "76" {
		t.Errorf("FormatQty(76) = %q", got)
	}
	if got := FormatQty(2.5); got != "2.5" {
		t.Errorf("FormatQty(2.5) = %q", got)
	}
}

func sampleResult() *engine.RunResult {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	return &engine.RunResult{
		Strategy:       "sma-cross",
		InitialCapital: 1000,
		FinalEquity:    970,
		EquityHistory: []domain.EquityPoint{
			{Date: d1, Equity: 1000, Cash: 0},
			{Date: d2, Equity: 970, Cash: 970},
		},
		Trades: []domain.Trade{{
			Symbol: "AAPL", EntryDate: d1, ExitDate: d2, EntryPrice: 100, ExitPrice: 97,
			Quantity: 10, RealizedPnL: -30, ExitReason: domain.ExitStopLoss,
		}},
		Metrics:           metrics.Compute(nil, nil),
		UnexecutedSignals: 2,
		Rejections:        map[engine.Rejection]int{engine.RejectTrendFilter: 2},
	}
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSummary(&buf, sampleResult()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"sma-cross", "1,000.00", "970.00", "2024-01-02 .. 2024-01-03", "trend_filter", "Unexecuted signals"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteSummary(&buf, &engine.RunResult{Strategy: "rsi", NoData: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no bars in range") {
		t.Errorf("no-data summary = %q", buf.String())
	}
}

func TestWriteTrades(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTrades(&buf, sampleResult()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 trade:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "STOP_LOSS") || !strings.Contains(lines[1], "-30.00") {
		t.Errorf("trade row = %q", lines[1])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResult()); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["strategy"] != "sma-cross" || decoded["final_equity"] != 970.0 {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestWriteEquityCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, sampleResult()); err != nil {
		t.Fatal(err)
	}
	want := "date,equity,cash\n2024-01-02,1000.00,0.00\n2024-01-03,970.00,970.00\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}

func TestWriteEquityCSV_Benchmark(t *testing.T) {
	res := sampleResult()
	res.Benchmark = []domain.EquityPoint{
		{Date: res.EquityHistory[0].Date, Equity: 1000},
		{Date: res.EquityHistory[1].Date, Equity: 1012.5},
	}
	var buf bytes.Buffer
	if err := WriteEquityCSV(&buf, res); err != nil {
		t.Fatal(err)
	}
	want := "date,equity,cash,benchmark\n2024-01-02,1000.00,0.00,1000.00\n2024-01-03,970.00,970.00,1012.50\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}

func TestWriteSummary_Benchmark(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	if err := WriteSummary(&buf, res); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Beta") {
		t.Errorf("summary without a benchmark mentions beta:\n%s", buf.String())
	}

	metrics.AddBenchmark(res.Metrics, res.EquityHistory, nil)
	buf.Reset()
	if err := WriteSummary(&buf, res); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Benchmark return", "Alpha", "Beta", "Information ratio"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, buf.String())
		}
	}
}

func TestSigned(t *testing.T) {
	for _, v := range []float64{1, -1, 0, math.NaN()} {
		if got := signed(v, "12.00"); !strings.Contains(got, "12.00") {
			t.Errorf("signed(%v) = %q, lost the text", v, got)
		}
	}
	if got := signed(0, "flat"); got != "flat" {
		t.Errorf("signed(0) = %q, want unstyled text", got)
	}
}
