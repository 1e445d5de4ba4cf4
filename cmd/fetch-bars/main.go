package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradesim/internal/config"
	"tradesim/internal/gather"
	"tradesim/internal/gather/us"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.PathFromEnv(), "path to the YAML config")
	symbols := flag.String("symbols", "", "comma-separated symbols (default: backtest.symbols)")
	start := flag.String("start", "", "first date to fetch (default: gather.start_date)")
	end := flag.String("end", "", "last date to fetch (default: latest finished trading day)")
	target := flag.String("store", "", "bar cache to fill: parquet, sqlite or csv (default: backtest.source)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatalf("alpaca credentials are not set (APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}

	syms := cfg.Backtest.Symbols
	if *symbols != "" {
		syms = strings.Split(*symbols, ",")
	}
	for i := range syms {
		syms[i] = strings.ToUpper(strings.TrimSpace(syms[i]))
	}
	if len(syms) == 0 {
		log.Fatalf("no symbols to fetch")
	}

	startDate := cfg.Gather.StartDate
	if *start != "" {
		startDate = *start
	}
	from, err := time.Parse(time.DateOnly, startDate)
	if err != nil {
		log.Fatalf("parsing start date %q: %v", startDate, err)
	}

	var to time.Time
	if *end != "" {
		if to, err = time.Parse(time.DateOnly, *end); err != nil {
			log.Fatalf("parsing end date %q: %v", *end, err)
		}
	} else {
		cal := us.NewCalendarSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
		if to, err = us.LatestFinishedTradingDay(cal, time.Now()); err != nil {
			log.Fatalf("determining end date: %v", err)
		}
	}

	source := cfg.Backtest.Source
	if *target != "" {
		source = *target
	}
	bs, closeStore, err := store.Open(source, store.Location{
		DataDir:    cfg.Storage.DataDir,
		SQLitePath: cfg.Storage.SQLitePath,
		CSVPath:    cfg.Backtest.CSVPath,
	})
	if err != nil {
		log.Fatalf("opening bar store: %v", err)
	}
	defer closeStore()

	fetcher := us.NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
	g := gather.NewDailyBarGatherer(fetcher, bs, syms, gather.DateRange{Start: from, End: to}, gather.Options{
		Market:          cfg.Backtest.Market,
		BatchSize:       cfg.Gather.BatchSize,
		MaxWorkers:      cfg.Gather.MaxWorkers,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
		RateBurst:       cfg.Gather.RateBurst,
		MaxAttempts:     cfg.Gather.MaxAttempts,
		RetryDelay:      cfg.Gather.RetryDelay,
		RetryMaxDelay:   cfg.Gather.RetryMaxDelay,
		RetryJitter:     cfg.Gather.RetryJitter,
	}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := g.Run(ctx); err != nil {
		log.Fatalf("fetch failed: %v", err)
	}
	if empty := g.Summary().Empty; len(empty) > 0 {
		logger.Warn("symbols returned no bars", "symbols", empty)
	}
}
