package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantsim/internal/app"
	"quantsim/internal/broker"
	"quantsim/internal/config"
	"quantsim/internal/gather/us"
	"quantsim/internal/live"
	"quantsim/internal/notify"
	"quantsim/internal/scheduler"
	"quantsim/internal/store"
)

const (
	paperURL = "https://paper-api.alpaca.markets"
	liveURL  = "https://api.alpaca.markets"
)

func main() {
	once := flag.Bool("once", false, "run one cycle now and exit")
	dryRun := flag.Float64("dry-run", 0, "trade against an in-memory broker holding this much cash")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logFile, err := app.SetupLogger(cfg, "quantsim-trader")
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer logFile.Close()

	if !cfg.Trading.Enabled && !*once {
		log.Fatalf("trading.enabled is false; set it or pass -once")
	}
	if len(cfg.Trading.Symbols) == 0 {
		log.Fatalf("trading.symbols is empty")
	}
	if !cfg.Alpaca.Configured() {
		log.Fatalf("alpaca credentials are required (ALPACA_API_KEY / ALPACA_API_SECRET)")
	}

	tradingURL := cfg.Alpaca.BaseURL
	switch {
	case cfg.Trading.PaperMode:
		tradingURL = paperURL
	case strings.Contains(tradingURL, "paper-api"):
		tradingURL = liveURL
	}

	var brk broker.Broker = broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, tradingURL)
	if *dryRun > 0 {
		brk = broker.NewSimulatorBroker(*dryRun)
	}
	brk = broker.WithRetry(brk, cfg.Trading.BrokerAttempts, cfg.Trading.BrokerDelay)

	calendar, err := us.NewCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, tradingURL)
	if err != nil {
		log.Fatalf("failed to create calendar: %v", err)
	}

	sqlite, err := app.OpenSQLite(cfg)
	if err != nil {
		log.Fatalf("failed to open trade log: %v", err)
	}
	defer sqlite.Close()

	var notifier notify.Notifier = notify.Noop{}
	if async := app.Notifier(cfg); async != nil {
		defer async.Close()
		notifier = async
	}

	// Live cycles need today's bar, so the cache is always backed by Alpaca.
	cfg.Simulation.ReadThrough = true
	provider := app.Provider(cfg, store.NewParquetStore(cfg.Storage.DataDir))

	cycle, err := live.NewCycle(live.Config{
		Symbols:        cfg.Trading.Symbols,
		BuyStrategies:  cfg.Trading.BuyStrategies,
		SellStrategies: cfg.Trading.SellStrategies,
		TakeProfit:     cfg.Trading.TakeProfit,
		StopLoss:       cfg.Trading.StopLoss,
		Sizing:         cfg.Trading.Sizing,
		WarmupDays:     cfg.Simulation.WarmupSingle,
		Channel:        cfg.Notify.Channel,
	}, live.Deps{
		Provider:   provider,
		Evaluator:  app.Evaluator(cfg),
		Broker:     brk,
		Trades:     sqlite,
		Notifier:   notifier,
		Costs:      app.Costs(cfg),
		TradingDay: calendar.IsTradingDay,
	})
	if err != nil {
		log.Fatalf("failed to create live cycle: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(ctx, nil)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	task := func(ctx context.Context) error {
		rep, err := cycle.Run(ctx)
		if err != nil {
			return err
		}
		if *once {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return nil
	}

	slog.Info("quantsim-trader starting",
		"broker", brk.Name(),
		"paperMode", cfg.Trading.PaperMode,
		"dryRun", *dryRun > 0,
		"symbols", len(cfg.Trading.Symbols),
		"schedule", cfg.Trading.Schedule,
	)

	if *once {
		if err := sched.RunNow("live-cycle", task); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := sched.Add("live-cycle", cfg.Trading.Schedule, task); err != nil {
		log.Fatalf("failed to schedule cycle: %v", err)
	}
	sched.Start()
	for _, next := range sched.Next() {
		slog.Info("next cycle", "at", next.Format(time.RFC3339))
	}

	<-ctx.Done()
	sched.Stop()
	slog.Info("quantsim-trader stopped")
}
