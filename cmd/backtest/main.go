package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradesim/internal/config"
	"tradesim/internal/engine"
	"tradesim/internal/report"
	"tradesim/internal/store"
	"tradesim/internal/strategy/builtins"
	"tradesim/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.PathFromEnv(), "path to the YAML config")
	strategyName := flag.String("strategy", "", "override backtest.strategy.name")
	symbols := flag.String("symbols", "", "comma-separated override of backtest.symbols")
	benchmark := flag.String("benchmark", "", "override backtest.benchmark")
	start := flag.String("start", "", "override backtest.start_date (YYYY-MM-DD)")
	end := flag.String("end", "", "override backtest.end_date (YYYY-MM-DD)")
	source := flag.String("source", "", "override backtest.source (parquet, sqlite, csv)")
	jsonOut := flag.String("json", "", "write the full result as JSON to this file (- for stdout)")
	equityOut := flag.String("equity-csv", "", "write the equity curve as CSV to this file")
	showTrades := flag.Bool("trades", false, "print the closed trades")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	bt := cfg.Backtest
	if *strategyName != "" && *strategyName != bt.Strategy.Name {
		bt.Strategy = config.StrategyConfig{Name: *strategyName}
	}
	if *symbols != "" {
		bt.Symbols = strings.Split(*symbols, ",")
	}
	if *benchmark != "" {
		bt.Benchmark = *benchmark
	}
	if *start != "" {
		bt.StartDate = *start
	}
	if *end != "" {
		bt.EndDate = *end
	}
	if *source != "" {
		bt.Source = *source
	}

	rc, err := bt.RunConfig()
	if err != nil {
		log.Fatalf("invalid backtest config: %v", err)
	}
	eng, err := engine.NewEngine(rc, builtins.NewRegistry(), logger)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}

	bars, closeStore, err := store.Open(bt.Source, store.Location{
		DataDir:    cfg.Storage.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
		CSVPath:    bt.CSVPath,
	})
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer closeStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	series, err := store.LoadSeries(ctx, bars, bt.Market, config.LoadSymbols(rc), bt.WarmupStart(rc.Start), rc.End)
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}

	res, err := eng.Run(ctx, series)
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	if *jsonOut != "-" {
		if err := report.WriteSummary(os.Stdout, res); err != nil {
			log.Fatalf("writing summary: %v", err)
		}
		if *showTrades && len(res.Trades) > 0 {
			fmt.Println()
			if err := report.WriteTrades(os.Stdout, res); err != nil {
				log.Fatalf("writing trades: %v", err)
			}
		}
	}
	if *jsonOut != "" {
		if err := writeFile(*jsonOut, func(f *os.File) error { return report.WriteJSON(f, res) }); err != nil {
			log.Fatalf("writing json: %v", err)
		}
	}
	if *equityOut != "" {
		if err := writeFile(*equityOut, func(f *os.File) error { return report.WriteEquityCSV(f, res) }); err != nil {
			log.Fatalf("writing equity csv: %v", err)
		}
	}
}

// writeFile runs write against path, or stdout when path is "-".
func writeFile(path string, write func(*os.File) error) error {
	if path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
