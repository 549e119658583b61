// Command brokercheck exercises every enabled broker end to end: connect,
// account info, a sample quote, positions, and an options chain probe. Run it
// after changing credentials or broker config to confirm the bot will have a
// working broker before the next cycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"washguard/internal/broker"
	"washguard/internal/config"
	"washguard/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "brokercheck: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	sample := flag.String("ticker", "SPY", "ticker used for the quote and chain probes")
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

	log, err := logging.New(false)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

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
	if len(candidates) == 0 {
		return fmt.Errorf("no brokers enabled in config")
	}

	failures := 0
	for _, b := range candidates {
		if err := check(b, *sample); err != nil {
			fmt.Printf("[%s] FAILED: %v\n", b.Name(), err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d brokers failed", failures, len(candidates))
	}
	fmt.Println("all brokers OK")
	return nil
}

func check(b broker.Broker, ticker string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	fmt.Printf("[%s] connecting...\n", b.Name())
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	acct, err := b.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	fmt.Printf("[%s] account %s  equity=%.2f cash=%.2f buying_power=%.2f\n",
		b.Name(), acct.ID, acct.Equity, acct.Cash, acct.BuyingPower)

	quote, err := b.MarketData(ctx, ticker)
	if err != nil {
		return fmt.Errorf("quote %s: %w", ticker, err)
	}
	fmt.Printf("[%s] %s last=%.2f bid=%.2f ask=%.2f\n",
		b.Name(), quote.Symbol, quote.Price, quote.Bid, quote.Ask)

	positions, err := b.Positions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	fmt.Printf("[%s] %d open positions\n", b.Name(), len(positions))

	etf, err := b.IsETF(ctx, ticker)
	if err != nil {
		fmt.Printf("[%s] ETF lookup for %s unavailable: %v\n", b.Name(), ticker, err)
	} else {
		fmt.Printf("[%s] %s is ETF: %v\n", b.Name(), ticker, etf)
	}

	// Chain probe is best effort: not every account tier has options data.
	expiry := nextFriday(time.Now()).Format("2006-01-02")
	chain, err := b.OptionsChain(ctx, ticker, expiry)
	if err != nil {
		fmt.Printf("[%s] options chain for %s %s unavailable: %v\n", b.Name(), ticker, expiry, err)
	} else {
		fmt.Printf("[%s] options chain for %s %s: %d contracts\n", b.Name(), ticker, expiry, len(chain))
	}
	return nil
}

func nextFriday(t time.Time) time.Time {
	days := (int(time.Friday) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return t.AddDate(0, 0, days)
}
