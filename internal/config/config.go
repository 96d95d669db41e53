// Package config loads the quantsim YAML configuration with .env and
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quantsim/internal/domain"
	"quantsim/internal/engine"
)

// DefaultPath is used when QUANTSIM_CONFIG is unset.
const DefaultPath = "config/quantsim.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for quantsim.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Alpaca     Alpaca           `yaml:"alpaca"`
	Logging    Logging          `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Notify     NotifyConfig     `yaml:"notify"`
	Gather     GatherConfig     `yaml:"gather"`
	Trading    TradingConfig    `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	BlobDir    string `yaml:"blob_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// HTTPAddr returns host:port of the HTTP listener.
func (s Server) HTTPAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns host:port of the gRPC listener, or "" when disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Configured reports whether credentials are present.
func (a Alpaca) Configured() bool { return a.APIKey != "" && a.APISecret != "" }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"` // daily log files; empty logs to stderr only
}

// SimulationConfig holds engine defaults applied to every run.
type SimulationConfig struct {
	Market       domain.Market `yaml:"market"`
	FeeRate      float64       `yaml:"fee_rate"`
	TaxRate      float64       `yaml:"tax_rate"`
	WarmupSingle int           `yaml:"warmup_single"`
	WarmupBulk   int           `yaml:"warmup_bulk"`
	LookbackPrev int           `yaml:"lookback_prev"`
	LookbackNext int           `yaml:"lookback_next"`
	Continuous   bool          `yaml:"continuous"`
	ReadThrough  bool          `yaml:"read_through"` // fetch missing bars from Alpaca into the cache
}

// JobsConfig sizes the worker pool and selects the job store.
type JobsConfig struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	ProgressAttempts int           `yaml:"progress_attempts"`
	Store            string        `yaml:"store"` // "sqlite" or "postgres"
	PostgresDSN      string        `yaml:"postgres_dsn"`
}

// NotifyConfig selects notification sinks. Empty values disable a sink.
type NotifyConfig struct {
	Channel        string `yaml:"channel"`
	DiscordWebhook string `yaml:"discord_webhook"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// GatherConfig controls the daily bar cache fill.
type GatherConfig struct {
	SymbolsFile string `yaml:"symbols_file"`
	StartDate   string `yaml:"start_date"`
	BatchSize   int    `yaml:"batch_size"`
	MaxWorkers  int    `yaml:"max_workers"`
}

// TradingConfig defines the scheduled live cycle.
type TradingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Schedule       string            `yaml:"schedule"` // cron spec, evaluated in America/New_York
	Symbols        []string          `yaml:"symbols"`
	BuyStrategies  []string          `yaml:"buy_strategies"`
	SellStrategies []string          `yaml:"sell_strategies"`
	TakeProfit     domain.ExitPolicy `yaml:"take_profit"`
	StopLoss       domain.ExitPolicy `yaml:"stop_loss"`
	Sizing         engine.Sizing     `yaml:"sizing"`
	PaperMode      bool              `yaml:"paper_mode"`
	BrokerAttempts int               `yaml:"broker_attempts"`
	BrokerDelay    time.Duration     `yaml:"broker_delay"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used for any field the file leaves
// unset.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/quantsim.db", BlobDir: "data/blobs"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Simulation: SimulationConfig{
			Market:       domain.MarketUS,
			FeeRate:      0.00015,
			TaxRate:      0.0018,
			WarmupSingle: 300,
			WarmupBulk:   180,
			LookbackPrev: 5,
			LookbackNext: 5,
		},
		Jobs: JobsConfig{
			Workers:          2,
			QueueSize:        64,
			PollInterval:     5 * time.Second,
			ProgressAttempts: 3,
			Store:            "sqlite",
		},
		Gather: GatherConfig{StartDate: "2020-01-01", BatchSize: 100, MaxWorkers: 4},
		Trading: TradingConfig{
			Schedule:       "0 10 * * MON-FRI",
			PaperMode:      true,
			BrokerAttempts: 5,
			BrokerDelay:    time.Second,
		},
	}
}

// Path returns the config file path from QUANTSIM_CONFIG or DefaultPath.
func Path() string {
	if v := os.Getenv("QUANTSIM_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads .env (if present), then the YAML configuration file at path
// over the defaults, then applies environment variable overrides. A missing
// config file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Jobs.Store {
	case "sqlite":
	case "postgres":
		if c.Jobs.PostgresDSN == "" {
			return fmt.Errorf("jobs.store postgres requires jobs.postgres_dsn")
		}
	default:
		return fmt.Errorf("jobs.store: unknown store %q", c.Jobs.Store)
	}
	if c.Jobs.Workers <= 0 || c.Jobs.QueueSize <= 0 {
		return fmt.Errorf("jobs.workers and jobs.queue_size must be positive")
	}
	if c.Simulation.FeeRate < 0 || c.Simulation.TaxRate < 0 {
		return fmt.Errorf("simulation fee and tax rates must not be negative")
	}
	if c.Trading.Enabled && len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.enabled requires trading.symbols")
	}
	c.Trading.TakeProfit = c.Trading.TakeProfit.Normalize()
	c.Trading.StopLoss = c.Trading.StopLoss.Normalize()
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("BLOB_DIR"); v != "" {
		cfg.Storage.BlobDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("JOB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.Workers = n
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Jobs.Store = "postgres"
		cfg.Jobs.PostgresDSN = v
	}

	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notify.DiscordWebhook = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notify.TelegramChatID = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
