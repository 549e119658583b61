// Package cycle drives the bot's repeating pass over the watchlists: check
// the wash-sale cooldown, fetch data, evaluate erosion, execute, persist.
package cycle

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"washguard/internal/broker"
	"washguard/internal/engine"
	"washguard/internal/journal"
	"washguard/internal/notify"
	"washguard/internal/state"
)

type Config struct {
	Watchlist        []string
	OptionsWatchlist []string
	MaxDrawdownPct   float64
	WashSaleDays     int
	Interval         time.Duration
}

// Runner owns one pass of the decision loop. It is the only writer of the
// state store; tickers are processed strictly in order and a new cycle never
// starts before the previous one finished.
type Runner struct {
	cfg      Config
	brokers  []broker.Broker
	store    *state.Store
	rec      journal.Recorder
	notifier notify.Notifier
	options  engine.OptionsEvaluator
	log      *zap.Logger

	// now is swapped out by tests.
	now func() time.Time
}

func New(cfg Config, brokers []broker.Broker, store *state.Store, rec journal.Recorder, notifier notify.Notifier, log *zap.Logger) *Runner {
	if notifier == nil {
		notifier = (*notify.Telegram)(nil) // nil-safe sink
	}
	if rec == nil {
		rec = journal.NewNoopRecorder()
	}
	return &Runner{
		cfg:      cfg,
		brokers:  brokers,
		store:    store,
		rec:      rec,
		notifier: notifier,
		options:  engine.NoOptionsStrategy,
		log:      log.Named("cycle"),
		now:      time.Now,
	}
}

// SetOptionsEvaluator installs an options strategy for the options watchlist
// pass. Without one the pass only fetches and logs.
func (r *Runner) SetOptionsEvaluator(fn engine.OptionsEvaluator) {
	if fn != nil {
		r.options = fn
	}
}

// Run loops cycles until the context is cancelled. The next cycle is
// scheduled a fixed interval after the previous one completes, so cycles
// cannot overlap however long a pass takes.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.brokers) == 0 {
		return errors.New("no connected brokers")
	}

	for {
		r.RunCycle(ctx)
		r.log.Info("cycle complete", zap.Duration("sleeping", r.cfg.Interval))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.Interval):
		}
	}
}

// RunCycle executes one full pass: the primary watchlist, then the options
// watchlist. A panic anywhere inside the pass is caught here so the schedule
// survives a bad cycle.
func (r *Runner) RunCycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("cycle panicked", zap.Any("panic", p))
		}
	}()

	if len(r.brokers) == 0 {
		r.log.Error("no brokers available")
		return
	}
	b := r.brokers[0]

	for _, ticker := range r.cfg.Watchlist {
		r.processTicker(ctx, b, ticker)
	}
	for _, ticker := range r.cfg.OptionsWatchlist {
		r.scanOptions(ctx, b, ticker)
	}
}

// processTicker runs the decision sequence for one watchlist entry. Any
// failure degrades to "no action for this ticker this cycle".
func (r *Runner) processTicker(ctx context.Context, b broker.Broker, ticker string) {
	log := r.log.With(zap.String("ticker", ticker), zap.String("broker", b.Name()))
	today := r.now()

	// Cooldown first: a blocked ticker gets no broker calls at all.
	status, err := engine.CheckCooldown(r.store, ticker, r.cfg.WashSaleDays, today)
	if err != nil {
		log.Error("persisting expired cooldown failed", zap.Error(err))
	}
	if status.Blocked {
		log.Warn("wash-sale cooldown active", zap.Int("days_remaining", status.DaysRemaining))
		return
	}
	if status.Expired {
		log.Info("wash-sale cooldown expired, ticker tradable again")
		r.journalWashSale(ticker, "EXPIRED", "")
	}

	quote, err := b.MarketData(ctx, ticker)
	if err != nil {
		log.Warn("market data unavailable", zap.Error(err))
		return
	}
	if quote.Price <= 0 {
		log.Warn("no usable price, skipping", zap.Float64("price", quote.Price))
		return
	}

	positions, err := b.Positions(ctx)
	if err != nil {
		log.Warn("positions unavailable", zap.Error(err))
		return
	}
	pos, ok := findPosition(positions, ticker)
	if !ok {
		log.Info("no position, monitoring only", zap.Float64("price", quote.Price))
		return
	}
	if !engine.RealPosition(pos.Quantity, pos.AverageCost) {
		log.Warn("degenerate position data, skipping evaluation",
			zap.Int64("quantity", pos.Quantity),
			zap.Float64("average_cost", pos.AverageCost))
		return
	}

	verdict := engine.EvaluateErosion(quote.Price, pos.AverageCost, pos.Dividends, r.cfg.MaxDrawdownPct)
	if err := r.rec.RecordVerdict(&journal.VerdictEvent{
		Broker:      b.Name(),
		Ticker:      ticker,
		Price:       quote.Price,
		AverageCost: pos.AverageCost,
		Dividends:   pos.Dividends,
		Quantity:    pos.Quantity,
		Verdict:     string(verdict),
	}); err != nil {
		log.Warn("journal write failed", zap.Error(err))
	}

	if verdict != engine.SellCritical {
		log.Info("holding steady",
			zap.Float64("price", quote.Price),
			zap.Float64("average_cost", pos.AverageCost))
		return
	}

	log.Warn("capital erosion exceeds dividend income, selling",
		zap.Float64("price", quote.Price),
		zap.Float64("average_cost", pos.AverageCost),
		zap.Float64("dividends", pos.Dividends),
		zap.Int64("quantity", pos.Quantity))

	r.executeSell(ctx, b, ticker, pos.Quantity, today, log)
}

// executeSell places the order and, only on confirmed success, arms the
// wash-sale cooldown and persists it. A failed order leaves no trace; the
// next cycle re-evaluates from scratch.
func (r *Runner) executeSell(ctx context.Context, b broker.Broker, ticker string, quantity int64, today time.Time, log *zap.Logger) {
	err := b.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   ticker,
		Side:     broker.Sell,
		Quantity: quantity,
		Type:     broker.Market,
	})

	status, detail := "FILLED", ""
	if err != nil {
		status, detail = "FAILED", err.Error()
	}
	if jerr := r.rec.RecordOrder(&journal.OrderEvent{
		Broker:   b.Name(),
		Ticker:   ticker,
		Side:     string(broker.Sell),
		Quantity: quantity,
		Status:   status,
		Detail:   detail,
	}); jerr != nil {
		log.Warn("journal write failed", zap.Error(jerr))
	}

	if err != nil {
		log.Error("sell order failed, no cooldown recorded", zap.Error(err))
		return
	}

	if err := r.store.RecordLoss(ticker, today); err != nil {
		// The entry is in memory and will ride along with the next successful
		// save; losing the process before then is the one window we accept.
		log.Error("persisting wash-sale entry failed", zap.Error(err))
	}
	lossDate := today.Format(state.DateLayout)
	r.journalWashSale(ticker, "ARMED", lossDate)
	log.Info("wash-sale cooldown armed",
		zap.String("loss_date", lossDate),
		zap.Int("cooldown_days", r.cfg.WashSaleDays))

	r.notifier.Sendf("SOLD %d %s: capital erosion trigger. Repurchase blocked until the %d-day wash-sale window clears.",
		quantity, ticker, r.cfg.WashSaleDays)
}

// scanOptions runs the options watchlist pass for one ticker.
func (r *Runner) scanOptions(ctx context.Context, b broker.Broker, ticker string) {
	log := r.log.With(zap.String("ticker", ticker), zap.String("broker", b.Name()))

	quote, err := b.MarketData(ctx, ticker)
	if err != nil || quote.Price <= 0 {
		log.Warn("no usable price for options scan", zap.Error(err))
		return
	}

	chain, err := b.OptionsChain(ctx, ticker, "")
	if err != nil {
		log.Warn("options chain unavailable", zap.Error(err))
		return
	}
	if len(chain) == 0 {
		log.Info("empty options chain")
		return
	}

	opp := r.options(ticker, quote.Price, chain)
	if opp == nil {
		log.Info("no options opportunity", zap.Int("contracts", len(chain)))
		return
	}
	log.Info("options opportunity",
		zap.String("contract", opp.Contract.Symbol),
		zap.String("reason", opp.Reason))
	r.notifier.Sendf("Options opportunity on %s: %s (%s)", ticker, opp.Contract.Symbol, opp.Reason)
}

func (r *Runner) journalWashSale(ticker, action, lossDate string) {
	if err := r.rec.RecordWashSale(&journal.WashSaleEvent{
		Ticker:   ticker,
		Action:   action,
		LossDate: lossDate,
	}); err != nil {
		r.log.Warn("journal write failed", zap.Error(err))
	}
}

// findPosition matches broker-reported symbols case-insensitively; brokers
// disagree about casing more often than they should.
func findPosition(positions []broker.Position, ticker string) (broker.Position, bool) {
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, ticker) {
			return p, true
		}
	}
	return broker.Position{}, false
}
