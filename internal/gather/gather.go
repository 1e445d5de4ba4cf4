// Package gather downloads daily bars from a market data provider into a
// bar cache so backtests can run offline.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/store"
	"tradesim/internal/util"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// BarFetcher retrieves daily bars for a batch of symbols.
type BarFetcher interface {
	FetchDailyBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Options tunes a DailyBarGatherer.
type Options struct {
	Market          string
	BatchSize       int
	MaxWorkers      int
	RateLimitPerMin int
	// RateBurst lets that many requests through at once after an idle
	// spell. It defaults to MaxWorkers so every worker can start at once.
	RateBurst int

	MaxAttempts   int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	// RetryJitter is the fraction of each retry delay drawn at random.
	RetryJitter float64
}

func (o Options) backoff() util.Backoff {
	return util.Backoff{
		MaxAttempts: o.MaxAttempts,
		BaseDelay:   o.RetryDelay,
		MaxDelay:    o.RetryMaxDelay,
		Jitter:      o.RetryJitter,
	}
}

// Summary reports the outcome of a gathering pass.
type Summary struct {
	Batches int
	Failed  int
	Bars    int
	Symbols int
	Empty   []string
}

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer fetches daily bars for a symbol list in batches and
// writes them to a BarStore.
type DailyBarGatherer struct {
	fetcher BarFetcher
	store   store.BarStore
	symbols []string
	rng     DateRange
	opts    Options
	limiter *util.RateLimiter
	log     *slog.Logger

	mu      sync.Mutex
	summary Summary
}

// NewDailyBarGatherer creates a DailyBarGatherer for symbols over rng.
func NewDailyBarGatherer(f BarFetcher, s store.BarStore, symbols []string, rng DateRange, opts Options, logger *slog.Logger) *DailyBarGatherer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Market == "" {
		opts.Market = "us"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 30 * time.Second
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = opts.MaxWorkers
	}
	return &DailyBarGatherer{
		fetcher: f,
		store:   s,
		symbols: symbols,
		rng:     rng,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin, opts.RateBurst),
		log:     logger.With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily-bars" }

// Summary returns the outcome of the last Run.
func (g *DailyBarGatherer) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.summary
	s.Empty = append([]string(nil), g.summary.Empty...)
	sort.Strings(s.Empty)
	return s
}

// Run fetches every batch, retrying transient failures, and writes the bars
// to the store. A batch that still fails after retries is logged and counted;
// Run reports an error if any batch failed.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	var batches [][]string
	for i := 0; i < len(g.symbols); i += g.opts.BatchSize {
		batches = append(batches, g.symbols[i:min(i+g.opts.BatchSize, len(g.symbols))])
	}

	g.mu.Lock()
	g.summary = Summary{Batches: len(batches)}
	g.mu.Unlock()

	g.log.Info("starting",
		"symbols", len(g.symbols),
		"batches", len(batches),
		"start", g.rng.Start.Format(time.DateOnly),
		"end", g.rng.End.Format(time.DateOnly),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg       sync.WaitGroup
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.opts.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				if err := g.runBatch(ctx, batches[idx]); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
						"err", err,
					)
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	g.summary.Failed = int(failed.Load())
	s := g.summary
	g.mu.Unlock()

	g.log.Info("complete",
		"bars", s.Bars,
		"symbols", s.Symbols,
		"empty", len(s.Empty),
		"failed", s.Failed,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d batches failed", s.Failed, s.Batches)
	}
	return nil
}

func (g *DailyBarGatherer) runBatch(ctx context.Context, batch []string) error {
	var bars []domain.Bar
	err := util.Retry(ctx, g.opts.backoff(), func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = g.fetcher.FetchDailyBars(ctx, batch, g.rng.Start, g.rng.End)
		if err != nil && ctx.Err() != nil {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fetching bars: %w", err)
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, g.opts.Market, bars); err != nil {
			return fmt.Errorf("writing bars: %w", err)
		}
	}

	hit := make(map[string]bool)
	for _, b := range bars {
		hit[b.Symbol] = true
	}
	var empty []string
	for _, sym := range batch {
		if !hit[sym] {
			empty = append(empty, sym)
		}
	}

	g.mu.Lock()
	g.summary.Bars += len(bars)
	g.summary.Symbols += len(hit)
	g.summary.Empty = append(g.summary.Empty, empty...)
	g.mu.Unlock()

	g.log.Debug("batch done", "hits", len(hit), "empty", len(empty))
	return nil
}
