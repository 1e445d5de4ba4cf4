package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*CSVStore)(nil)

// csvHeader is the column layout written by CSVStore. Reads accept any
// column order as long as the header names these columns.
var csvHeader = []string{"Date", "Ticker", "Open", "High", "Low", "Close", "Volume"}

// CSVStore implements BarStore over a single CSV file holding bars for many
// tickers. The market argument is ignored: one file is one market.
type CSVStore struct {
	Path string
}

// NewCSVStore returns a CSVStore reading and writing path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{Path: path}
}

// WriteBars merges bars into the file and rewrites it sorted by date then
// ticker.
func (s *CSVStore) WriteBars(_ context.Context, _ string, bars []domain.Bar) error {
	existing, err := s.readAll()
	if err != nil {
		return err
	}
	incoming := make([]domain.Bar, len(bars))
	for i, b := range bars {
		b.Symbol = normalizeSymbol(b.Symbol)
		incoming[i] = b
	}
	merged := mergeBars(existing, incoming)

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range merged {
		rec := []string{
			dateKey(b.Timestamp).Format(time.DateOnly),
			b.Symbol,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// ReadBars returns the file's bars for symbol within [start, end].
func (s *CSVStore) ReadBars(ctx context.Context, symbol string, _ string, start, end time.Time) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	symbol = normalizeSymbol(symbol)
	bars := []domain.Bar{}
	for _, b := range all {
		if b.Symbol == symbol && inRange(b.Timestamp, start, end) {
			bars = append(bars, b)
		}
	}
	sortBars(bars)
	return bars, nil
}

// ListSymbols returns the distinct tickers in the file.
func (s *CSVStore) ListSymbols(_ context.Context, _ string) ([]string, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var symbols []string
	for _, b := range all {
		if !seen[b.Symbol] {
			seen[b.Symbol] = true
			symbols = append(symbols, b.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// readAll parses the whole file. A missing file holds no bars.
func (s *CSVStore) readAll() ([]domain.Bar, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range csvHeader {
		if _, ok := col[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		b, err := parseRecord(rec, col)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseRecord(rec []string, col map[string]int) (domain.Bar, error) {
	field := func(name string) string { return strings.TrimSpace(rec[col[name]]) }

	ts, err := time.Parse(time.DateOnly, field("date"))
	if err != nil {
		return domain.Bar{}, err
	}
	b := domain.Bar{Symbol: normalizeSymbol(field("ticker")), Timestamp: ts}
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close},
	} {
		if *p.dst, err = strconv.ParseFloat(field(p.name), 64); err != nil {
			return domain.Bar{}, fmt.Errorf("%s: %w", p.name, err)
		}
	}
	vol, err := strconv.ParseFloat(field("volume"), 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("volume: %w", err)
	}
	b.Volume = int64(vol)
	return b, nil
}
