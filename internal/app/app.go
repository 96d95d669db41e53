// Package app builds the services shared by the quantsim commands from a
// loaded configuration.
package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quantsim/internal/config"
	"quantsim/internal/gather"
	"quantsim/internal/gather/us"
	"quantsim/internal/notify"
	"quantsim/internal/portfolio"
	"quantsim/internal/store"
	"quantsim/internal/strategy"
	"quantsim/internal/strategy/builtins"
	"quantsim/internal/util"
)

// SetupLogger installs the default logger. When cfg.Logging.Dir is set the
// output is also written to <dir>/<name>-<date>.log; the returned closer
// closes that file.
func SetupLogger(cfg *config.Config, name string) (io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if dir := cfg.Logging.Dir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	util.SetDefault(util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format).With("app", name))
	return closer, nil
}

// Costs returns the fee and tax rates from cfg.
func Costs(cfg *config.Config) portfolio.Costs {
	return portfolio.Costs{FeeRate: cfg.Simulation.FeeRate, TaxRate: cfg.Simulation.TaxRate}
}

// Evaluator returns an evaluator over the built-in strategies.
func Evaluator(cfg *config.Config) *strategy.Evaluator {
	return strategy.NewEvaluator(builtins.NewRegistry(), cfg.Simulation.LookbackPrev, cfg.Simulation.LookbackNext)
}

// Provider returns the bar source: the Parquet cache, fronted by a
// read-through to Alpaca when enabled and credentials are present, and
// wrapped for continuous series when configured.
func Provider(cfg *config.Config, bars *store.ParquetStore) gather.Provider {
	local := gather.NewStoreProvider(bars, cfg.Simulation.Market)
	var p gather.Provider = local
	if cfg.Simulation.ReadThrough {
		if cfg.Alpaca.Configured() {
			remote := us.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
			p = gather.NewReadThrough(local, remote)
		} else {
			slog.Warn("read_through enabled without alpaca credentials, serving cache only")
		}
	}
	if cfg.Simulation.Continuous {
		p = gather.Continuous{Provider: p}
	}
	return p
}

// Notifier returns the configured chat sinks behind an async queue, or nil
// when none is configured. Close the returned Async on shutdown.
func Notifier(cfg *config.Config) *notify.Async {
	var sinks notify.Multi
	if cfg.Notify.DiscordWebhook != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.Notify.DiscordWebhook))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if len(sinks) == 0 {
		return nil
	}
	return notify.NewAsync(sinks, 128)
}

// JobStore opens the configured job store. The SQLite store doubles as the
// trade log and is returned as the second value (nil for postgres).
func JobStore(cfg *config.Config) (store.JobStore, *store.SQLiteStore, error) {
	if cfg.Jobs.Store == "postgres" {
		js, err := store.OpenPostgresJobStore(cfg.Jobs.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return js, nil, nil
	}
	lite, err := OpenSQLite(cfg)
	if err != nil {
		return nil, nil, err
	}
	return lite, lite, nil
}

// OpenSQLite opens the SQLite database, creating its directory.
func OpenSQLite(cfg *config.Config) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}
	return store.NewSQLiteStore(cfg.Storage.SQLitePath)
}
