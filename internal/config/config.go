package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradesim/internal/domain"
	"tradesim/internal/engine"
	"tradesim/internal/strategy"
)

// DefaultPath is used when TRADESIM_CONFIG is unset.
const DefaultPath = "config/tradesim.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for tradesim.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for the bar caches.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	BaseURL   string `yaml:"base_url"` // trading API, used for the calendar
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls the daily bar download.
type GatherConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	RateBurst       int    `yaml:"rate_burst"`
	MaxAttempts     int    `yaml:"max_attempts"`

	// Retry delays are Go durations such as "500ms" or "30s".
	RetryDelay    time.Duration `yaml:"retry_delay"`
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
	RetryJitter   float64       `yaml:"retry_jitter"`
}

// BacktestConfig describes one backtest run as written in the config file.
type BacktestConfig struct {
	InitialCapital float64  `yaml:"initial_capital"`
	Symbols        []string `yaml:"symbols"`
	Market         string   `yaml:"market"`

	// Benchmark is an optional ticker held from the first date for
	// comparison, e.g. SPY.
	Benchmark string `yaml:"benchmark"`

	// Source selects the bar cache: "parquet", "sqlite" or "csv".
	Source  string `yaml:"source"`
	CSVPath string `yaml:"csv_path"`

	StartDate  string `yaml:"start_date"`
	EndDate    string `yaml:"end_date"`
	WarmupDays int    `yaml:"warmup_days"`

	Strategy StrategyConfig    `yaml:"strategy"`
	Risk     engine.RiskConfig `yaml:"risk"`

	LiquidateAtEnd bool `yaml:"liquidate_at_end"`
	SignalWorkers  int  `yaml:"signal_workers"`
}

// StrategyConfig names a registered strategy. Params is kept as a raw YAML
// node and decoded by the strategy's own factory.
type StrategyConfig struct {
	Name   string    `yaml:"name"`
	Params yaml.Node `yaml:"params"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// PathFromEnv returns TRADESIM_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("TRADESIM_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, loads a .env file next to it when present, and then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyDefaults(cfg)

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "sip"
	}
	if cfg.Gather.BatchSize <= 0 {
		cfg.Gather.BatchSize = 100
	}
	if cfg.Gather.RateLimitPerMin <= 0 {
		cfg.Gather.RateLimitPerMin = 200
	}
	if cfg.Gather.MaxAttempts <= 0 {
		cfg.Gather.MaxAttempts = 3
	}
	if cfg.Gather.RetryJitter < 0 || cfg.Gather.RetryJitter > 1 {
		cfg.Gather.RetryJitter = 0
	}
	if cfg.Backtest.Market == "" {
		cfg.Backtest.Market = "us"
	}
	if cfg.Backtest.Source == "" {
		cfg.Backtest.Source = "parquet"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BACKTEST_INITIAL_CAPITAL"); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BACKTEST_INITIAL_CAPITAL %q: %v", domain.ErrInvalidConfiguration, v, err)
		}
		cfg.Backtest.InitialCapital = capital
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// Range parses the configured start and end dates.
func (b BacktestConfig) Range() (start, end time.Time, err error) {
	start, err = time.Parse(time.DateOnly, strings.TrimSpace(b.StartDate))
	if err != nil {
		return start, end, fmt.Errorf("%w: start_date %q: %v", domain.ErrInvalidConfiguration, b.StartDate, err)
	}
	end, err = time.Parse(time.DateOnly, strings.TrimSpace(b.EndDate))
	if err != nil {
		return start, end, fmt.Errorf("%w: end_date %q: %v", domain.ErrInvalidConfiguration, b.EndDate, err)
	}
	return start, end, nil
}

// RunConfig converts the document into a typed engine configuration. The
// result still needs engine.NewEngine to validate it against a registry.
func (b BacktestConfig) RunConfig() (engine.RunConfig, error) {
	start, end, err := b.Range()
	if err != nil {
		return engine.RunConfig{}, err
	}

	symbols := make([]string, 0, len(b.Symbols))
	for _, s := range b.Symbols {
		symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
	}

	var params strategy.Params
	if b.Strategy.Params.Kind != 0 {
		node := b.Strategy.Params
		params = &node
	}

	rc := engine.RunConfig{
		InitialCapital: b.InitialCapital,
		Instruments:    symbols,
		Start:          start,
		End:            end,
		Strategy:       b.Strategy.Name,
		StrategyParams: params,
		Risk:           b.Risk,
		LiquidateAtEnd: b.LiquidateAtEnd,
		SignalWorkers:  b.SignalWorkers,
		Benchmark:      strings.ToUpper(strings.TrimSpace(b.Benchmark)),
	}
	if err := rc.Validate(); err != nil {
		return engine.RunConfig{}, err
	}
	return rc, nil
}

// LoadSymbols returns the instruments plus the benchmark, which needs bars
// too but does not trade.
func LoadSymbols(rc engine.RunConfig) []string {
	syms := append([]string(nil), rc.Instruments...)
	if rc.Benchmark != "" && !slices.Contains(syms, rc.Benchmark) {
		syms = append(syms, rc.Benchmark)
	}
	return syms
}

// WarmupStart returns the first date to load so strategies have history
// before the trading window opens.
func (b BacktestConfig) WarmupStart(start time.Time) time.Time {
	if b.WarmupDays <= 0 {
		return start
	}
	return start.AddDate(0, 0, -b.WarmupDays)
}
