// Package store defines the bar cache interface and its Parquet, SQLite and
// CSV implementations, plus helpers to load backtest input series.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tradesim/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage under market, merging
	// with bars already stored for the same symbol and date.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market whose dates fall
	// within [start, end], in increasing date order.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// loadWorkers bounds concurrent symbol reads in LoadSeries.
const loadWorkers = 8

// LoadSeries reads bars for every symbol in [start, end] and returns them
// keyed by symbol. Symbols with no stored bars map to an empty slice; the
// engine treats their dates as data gaps.
func LoadSeries(ctx context.Context, bs BarStore, market string, symbols []string, start, end time.Time) (map[string][]domain.Bar, error) {
	var mu sync.Mutex
	out := make(map[string][]domain.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for _, sym := range symbols {
		g.Go(func() error {
			bars, err := bs.ReadBars(gctx, sym, market, start, end)
			if err != nil {
				return fmt.Errorf("reading %s bars: %w", sym, err)
			}
			mu.Lock()
			out[sym] = bars
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// dateKey truncates t to its UTC calendar date.
func dateKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// inRange reports whether t's date falls within [start, end] by date.
func inRange(t, start, end time.Time) bool {
	d := dateKey(t)
	return !d.Before(dateKey(start)) && !d.After(dateKey(end))
}

// mergeBars deduplicates bars by (symbol, date), preferring incoming bars
// over existing ones, and returns them sorted by date.
func mergeBars(existing, incoming []domain.Bar) []domain.Bar {
	type key struct {
		symbol string
		date   time.Time
	}
	seen := make(map[key]domain.Bar, len(existing)+len(incoming))
	for _, b := range existing {
		seen[key{b.Symbol, dateKey(b.Timestamp)}] = b
	}
	for _, b := range incoming {
		seen[key{b.Symbol, dateKey(b.Timestamp)}] = b
	}

	merged := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		merged = append(merged, b)
	}
	sortBars(merged)
	return merged
}

func sortBars(bars []domain.Bar) {
	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Timestamp.Equal(bars[j].Timestamp) {
			return bars[i].Timestamp.Before(bars[j].Timestamp)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
