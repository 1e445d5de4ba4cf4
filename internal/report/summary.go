package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"tradesim/internal/engine"
	"tradesim/internal/metrics"
)

// WriteSummary prints the headline numbers and metrics of a run.
func WriteSummary(w io.Writer, res *engine.RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Strategy\t%s\n", res.Strategy)
	if res.NoData {
		fmt.Fprintf(tw, "Result\tno bars in range\n")
		return tw.Flush()
	}
	if n := len(res.EquityHistory); n > 0 {
		fmt.Fprintf(tw, "Period\t%s .. %s (%d days)\n",
			res.EquityHistory[0].Date.Format(time.DateOnly),
			res.EquityHistory[n-1].Date.Format(time.DateOnly), n)
	}
	fmt.Fprintf(tw, "Initial capital\t%s\n", FormatMoney(res.InitialCapital))
	fmt.Fprintf(tw, "Final equity\t%s\n", signed(res.FinalEquity-res.InitialCapital, FormatMoney(res.FinalEquity)))
	fmt.Fprintf(tw, "Commission paid\t%s\n", FormatMoney(res.CommissionPaid))
	fmt.Fprintf(tw, "\t\n")

	m := res.Metrics
	fmt.Fprintf(tw, "Total return\t%s\n", signed(m[metrics.TotalReturn], FormatPct(m[metrics.TotalReturn])))
	fmt.Fprintf(tw, "CAGR\t%s\n", signed(m[metrics.CAGR], FormatPct(m[metrics.CAGR])))
	fmt.Fprintf(tw, "Volatility\t%s\n", FormatPct(m[metrics.Volatility]))
	fmt.Fprintf(tw, "Sharpe\t%s\n", FormatRatio(m[metrics.Sharpe]))
	fmt.Fprintf(tw, "Sortino\t%s\n", FormatRatio(m[metrics.Sortino]))
	fmt.Fprintf(tw, "Max drawdown\t%s\n", FormatPct(-m[metrics.MaxDrawdown]))
	fmt.Fprintf(tw, "Calmar\t%s\n", FormatRatio(m[metrics.Calmar]))
	fmt.Fprintf(tw, "Recovery factor\t%s\n", FormatRatio(m[metrics.Recovery]))
	fmt.Fprintf(tw, "\t\n")
	if _, ok := m[metrics.Beta]; ok {
		fmt.Fprintf(tw, "Benchmark return\t%s\n", signed(m[metrics.BenchmarkReturn], FormatPct(m[metrics.BenchmarkReturn])))
		fmt.Fprintf(tw, "Alpha\t%s\n", signed(m[metrics.Alpha], FormatPct(m[metrics.Alpha])))
		fmt.Fprintf(tw, "Beta\t%s\n", FormatRatio(m[metrics.Beta]))
		fmt.Fprintf(tw, "Information ratio\t%s\n", FormatRatio(m[metrics.InformationRatio]))
		fmt.Fprintf(tw, "\t\n")
	}
	fmt.Fprintf(tw, "Trades\t%s\n", FormatInt(len(res.Trades)))
	fmt.Fprintf(tw, "Win rate\t%s\n", FormatPct(m[metrics.WinRate]))
	fmt.Fprintf(tw, "Profit factor\t%s\n", FormatRatio(m[metrics.ProfitFactor]))
	fmt.Fprintf(tw, "Avg trade P&L\t%s\n", signed(m[metrics.AvgTradePnL], FormatMoney(m[metrics.AvgTradePnL])))
	fmt.Fprintf(tw, "Open positions\t%d\n", len(res.OpenPositions))
	fmt.Fprintf(tw, "Unexecuted signals\t%d\n", res.UnexecutedSignals)
	if len(res.Rejections) > 0 {
		reasons := make([]string, 0, len(res.Rejections))
		for r := range res.Rejections {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(tw, "  %s\t%d\n", r, res.Rejections[engine.Rejection(r)])
		}
	}
	fmt.Fprintf(tw, "Data gaps\t%d\n", res.DataGaps)
	return tw.Flush()
}

// WriteTrades prints one row per closed trade.
func WriteTrades(w io.Writer, res *engine.RunResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Symbol\tEntry\tExit\tQty\tEntry px\tExit px\tP&L\tReason\t")
	for _, t := range res.Trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t\n",
			t.Symbol,
			t.EntryDate.Format(time.DateOnly),
			t.ExitDate.Format(time.DateOnly),
			FormatQty(t.Quantity),
			t.EntryPrice,
			t.ExitPrice,
			FormatMoney(t.RealizedPnL),
			t.ExitReason,
		)
	}
	return tw.Flush()
}

// WriteJSON writes the full result as indented JSON.
func WriteJSON(w io.Writer, res *engine.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteEquityCSV writes the equity curve as date,equity,cash rows, with a
// trailing benchmark column when the run has a benchmark curve.
func WriteEquityCSV(w io.Writer, res *engine.RunResult) error {
	cw := csv.NewWriter(w)
	header := []string{"date", "equity", "cash"}
	withBench := len(res.Benchmark) == len(res.EquityHistory) && len(res.Benchmark) > 0
	if withBench {
		header = append(header, "benchmark")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, p := range res.EquityHistory {
		row := []string{
			p.Date.Format(time.DateOnly),
			strconv.FormatFloat(p.Equity, 'f', 2, 64),
			strconv.FormatFloat(p.Cash, 'f', 2, 64),
		}
		if withBench {
			row = append(row, strconv.FormatFloat(res.Benchmark[i].Equity, 'f', 2, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
