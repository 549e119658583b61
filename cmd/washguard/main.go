package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"washguard/internal/broker"
	"washguard/internal/config"
	"washguard/internal/cycle"
	"washguard/internal/journal"
	"washguard/internal/logging"
	"washguard/internal/notify"
	"washguard/internal/report"
	"washguard/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "washguard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*cfgPath = v
	}

	config.LoadDotenv()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("washguard starting",
		zap.Strings("watchlist", cfg.Watchlist),
		zap.Strings("options_watchlist", cfg.OptionsWatchlist),
		zap.Float64("max_drawdown_pct", cfg.MaxDrawdownPct),
		zap.Int("wash_sale_days", cfg.WashSaleDays),
		zap.Int("cycle_interval_seconds", cfg.CycleIntervalSeconds))
	if cfg.ShortCooldown() {
		log.Warn("wash_sale_days is below the 30-day regulatory minimum",
			zap.Int("wash_sale_days", cfg.WashSaleDays))
	}

	store, err := state.Open(cfg.StateFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokers := connectBrokers(ctx, cfg, log)
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers connected; configure at least one broker")
	}

	var rec journal.Recorder = journal.NewNoopRecorder()
	if cfg.Journal.SQLitePath != "" {
		sq, err := journal.NewSQLiteRecorder(cfg.Journal.SQLitePath)
		if err != nil {
			log.Warn("journal unavailable, continuing without", zap.Error(err))
		} else {
			rec = sq
			defer sq.Close()
			log.Info("journal opened", zap.String("path", cfg.Journal.SQLitePath))
		}
	}

	notifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)
	if err != nil {
		log.Warn("telegram notifier unavailable", zap.Error(err))
	}

	runner := cycle.New(cycle.Config{
		Watchlist:        cfg.Watchlist,
		OptionsWatchlist: cfg.OptionsWatchlist,
		MaxDrawdownPct:   cfg.MaxDrawdownPct,
		WashSaleDays:     cfg.WashSaleDays,
		Interval:         time.Duration(cfg.CycleIntervalSeconds) * time.Second,
	}, brokers, store, rec, notifier, log)

	// Daily portfolio report, pushed through the notifier. Read-only, so it
	// can run off-schedule from the cycle loop.
	if cfg.Report.DailyCron != "" && notifier != nil {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(cfg.Report.DailyCron, func() {
			text, err := report.Build(ctx, brokers[0], store, cfg.WashSaleDays, time.Now())
			if err != nil {
				log.Warn("daily report failed", zap.Error(err))
				return
			}
			notifier.Send(text)
		}); err != nil {
			return fmt.Errorf("register daily report: %w", err)
		}
		c.Start()
		defer c.Stop()
		log.Info("daily report scheduled", zap.String("cron", cfg.Report.DailyCron))
	}

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info("shutdown signal received, stopping")
		return nil
	}
	return err
}

// connectBrokers builds every enabled adapter and keeps the ones whose
// Connect succeeded. Each attempt gets its own timeout so one slow broker
// cannot stall startup.
func connectBrokers(ctx context.Context, cfg *config.Root, log *zap.Logger) []broker.Broker {
	var candidates []broker.Broker
	if cfg.Brokers.Alpaca.Enabled {
		candidates = append(candidates, broker.NewAlpacaBroker(broker.AlpacaConfig{
			APIKey:    cfg.Brokers.Alpaca.APIKey,
			APISecret: cfg.Brokers.Alpaca.APISecret,
			BaseURL:   cfg.Brokers.Alpaca.BaseURL,
		}, log))
	}
	if cfg.Brokers.Paper.Enabled {
		seed := make([]broker.PaperPosition, 0, len(cfg.Brokers.Paper.Positions))
		for _, p := range cfg.Brokers.Paper.Positions {
			seed = append(seed, broker.PaperPosition{
				Symbol:      p.Symbol,
				Quantity:    p.Quantity,
				AverageCost: p.AverageCost,
				Dividends:   p.Dividends,
				BasePrice:   p.BasePrice,
			})
		}
		candidates = append(candidates, broker.NewPaperBroker(seed, log))
	}

	var connected []broker.Broker
	for _, b := range candidates {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := b.Connect(cctx)
		cancel()
		if err != nil {
			log.Error("broker connect failed, excluding from this run",
				zap.String("broker", b.Name()), zap.Error(err))
			continue
		}
		connected = append(connected, b)
	}
	return connected
}
