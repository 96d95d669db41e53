package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantsim/internal/app"
	"quantsim/internal/config"
	"quantsim/internal/gather/us"
	"quantsim/internal/scheduler"
	"quantsim/internal/store"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (overrides gather.symbols_file)")
	daemon := flag.Bool("daemon", false, "stay running and refill after every session close")
	schedule := flag.String("schedule", "15 20 * * MON-FRI", "cron spec for -daemon, America/New_York")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logFile, err := app.SetupLogger(cfg, "quantsim-gather")
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if !cfg.Alpaca.Configured() {
		log.Fatalf("alpaca credentials are required (ALPACA_API_KEY / ALPACA_API_SECRET)")
	}

	var symbols []string
	switch {
	case *symbolsFlag != "":
		for _, s := range strings.Split(*symbolsFlag, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
	case cfg.Gather.SymbolsFile != "":
		if symbols, err = us.LoadCSVSymbols(cfg.Gather.SymbolsFile); err != nil {
			log.Fatalf("failed to load symbols: %v", err)
		}
	default:
		symbols = cfg.Trading.Symbols
	}
	if len(symbols) == 0 {
		log.Fatalf("no symbols to gather: pass -symbols or set gather.symbols_file")
	}

	start, err := time.Parse("2006-01-02", cfg.Gather.StartDate)
	if err != nil {
		log.Fatalf("invalid gather.start_date %q: %v", cfg.Gather.StartDate, err)
	}

	calendar, err := us.NewCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	if err != nil {
		log.Fatalf("failed to create calendar: %v", err)
	}

	gatherer := us.NewDailyBarGatherer(
		us.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed),
		store.NewParquetStore(cfg.Storage.DataDir),
		symbols,
		start,
		cfg.Gather.BatchSize,
		cfg.Gather.MaxWorkers,
		calendar.LatestFinishedTradingDay,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(ctx, nil)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}

	slog.Info("quantsim-gather starting", "gatherer", gatherer.Name(), "symbols", len(symbols), "dataDir", cfg.Storage.DataDir, "daemon", *daemon)
	if err := sched.RunNow(gatherer.Name(), gatherer.Run); err != nil && !*daemon {
		log.Fatalf("gather failed: %v", err)
	}
	if !*daemon {
		return
	}

	if err := sched.Add(gatherer.Name(), *schedule, gatherer.Run); err != nil {
		log.Fatalf("failed to schedule gather: %v", err)
	}
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	slog.Info("quantsim-gather stopped")
}
