// Package us fetches US equity daily bars and the trading calendar from the
// Alpaca APIs.
package us

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradesim/internal/domain"
	"tradesim/internal/gather"
)

// Compile-time interface check.
var _ gather.BarFetcher = (*AlpacaFetcher)(nil)

// multiBarsClient is the subset of *marketdata.Client the fetcher uses.
type multiBarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaFetcher retrieves daily bars through the Alpaca market data API.
type AlpacaFetcher struct {
	client multiBarsClient
	feed   string
}

// NewAlpacaFetcher creates an AlpacaFetcher with the given credentials. An
// empty dataURL uses the SDK default; an empty feed uses "sip".
func NewAlpacaFetcher(apiKey, apiSecret, dataURL, feed string) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "sip"
	}
	return &AlpacaFetcher{client: marketdata.NewClient(opts), feed: feed}
}

// FetchDailyBars fetches daily bars for multiple symbols in a single API call.
func (f *AlpacaFetcher) FetchDailyBars(ctx context.Context, symbols []string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Feed:       marketdata.Feed(f.feed),
		Adjustment: marketdata.All,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
