package store

import (
	"fmt"
	"strings"
)

// Source names accepted by Open.
const (
	SourceParquet = "parquet"
	SourceSQLite  = "sqlite"
	SourceCSV     = "csv"
)

// Location holds the on-disk paths of every bar cache kind.
type Location struct {
	DataDir    string
	SQLitePath string
	CSVPath    string
}

// Open returns the BarStore for source and a close func that releases it.
func Open(source string, loc Location) (BarStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(source) {
	case SourceParquet, "":
		if loc.DataDir == "" {
			return nil, nil, fmt.Errorf("parquet store: data_dir is not set")
		}
		return NewParquetStore(loc.DataDir), noop, nil
	case SourceSQLite:
		if loc.SQLitePath == "" {
			return nil, nil, fmt.Errorf("sqlite store: sqlite_path is not set")
		}
		s, err := NewSQLiteStore(loc.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, s.Close, nil
	case SourceCSV:
		if loc.CSVPath == "" {
			return nil, nil, fmt.Errorf("csv store: csv_path is not set")
		}
		return NewCSVStore(loc.CSVPath), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown bar source %q", source)
	}
}
