// Command portfolio prints a one-shot snapshot of the brokerage account:
// positions with cost basis, unrealized P/L, collected dividends, and any
// tickers still inside their wash-sale cooldown window.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"washguard/internal/broker"
	"washguard/internal/config"
	"washguard/internal/logging"
	"washguard/internal/report"
	"washguard/internal/state"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portfolio: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	if p := os.Getenv("CONFIG_PATH"); p != "" && *configPath == "configs/config.yaml" {
		*configPath = p
	}

	config.LoadDotenv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(*debug)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	store, err := state.Open(cfg.StateFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b, err := pickBroker(ctx, cfg, log)
	if err != nil {
		return err
	}

	out, err := report.Build(ctx, b, store, cfg.WashSaleDays, time.Now())
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// pickBroker connects the first enabled broker, preferring the live one.
func pickBroker(ctx context.Context, cfg *config.Root, log *zap.Logger) (broker.Broker, error) {
	if cfg.Brokers.Alpaca.Enabled {
		b := broker.NewAlpacaBroker(broker.AlpacaConfig{
			APIKey:    cfg.Brokers.Alpaca.APIKey,
			APISecret: cfg.Brokers.Alpaca.APISecret,
			BaseURL:   cfg.Brokers.Alpaca.BaseURL,
		}, log)
		if err := b.Connect(ctx); err != nil {
			return nil, err
		}
		return b, nil
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
		b := broker.NewPaperBroker(seed, log)
		if err := b.Connect(ctx); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("no broker enabled")
}
