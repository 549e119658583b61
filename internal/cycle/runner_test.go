package cycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"washguard/internal/broker"
	"washguard/internal/engine"
	"washguard/internal/journal"
	"washguard/internal/state"
)

// scriptedBroker is a Broker with canned data that records every call, so
// tests can assert both outcomes and the sequence of broker interactions.
type scriptedBroker struct {
	calls []string

	quotes    map[string]broker.Quote
	quoteErr  error
	positions []broker.Position
	posErr    error
	orderErr  error
	chain     []broker.OptionContract
	chainErr  error
	panicOn   string
}

func (s *scriptedBroker) Name() string                    { return "scripted" }
func (s *scriptedBroker) Connect(context.Context) error   { return nil }
func (s *scriptedBroker) AccountInfo(context.Context) (broker.Account, error) {
	return broker.Account{}, nil
}

func (s *scriptedBroker) MarketData(_ context.Context, ticker string) (broker.Quote, error) {
	s.calls = append(s.calls, "MarketData:"+ticker)
	if s.panicOn == "MarketData" {
		panic("boom")
	}
	if s.quoteErr != nil {
		return broker.Quote{}, s.quoteErr
	}
	return s.quotes[ticker], nil
}

func (s *scriptedBroker) Positions(context.Context) ([]broker.Position, error) {
	s.calls = append(s.calls, "Positions")
	return s.positions, s.posErr
}

func (s *scriptedBroker) OptionsChain(_ context.Context, ticker, _ string) ([]broker.OptionContract, error) {
	s.calls = append(s.calls, "OptionsChain:"+ticker)
	return s.chain, s.chainErr
}

func (s *scriptedBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) error {
	s.calls = append(s.calls, "PlaceOrder:"+req.Symbol)
	return s.orderErr
}

func (s *scriptedBroker) IsETF(context.Context, string) (bool, error) { return false, nil }

// memJournal records events in memory.
type memJournal struct {
	verdicts  []journal.VerdictEvent
	orders    []journal.OrderEvent
	washSales []journal.WashSaleEvent
}

func (m *memJournal) RecordVerdict(e *journal.VerdictEvent) error {
	m.verdicts = append(m.verdicts, *e)
	return nil
}
func (m *memJournal) RecordOrder(e *journal.OrderEvent) error {
	m.orders = append(m.orders, *e)
	return nil
}
func (m *memJournal) RecordWashSale(e *journal.WashSaleEvent) error {
	m.washSales = append(m.washSales, *e)
	return nil
}
func (m *memJournal) Close() error { return nil }

func newTestRunner(t *testing.T, cfg Config, b *scriptedBroker) (*Runner, *state.Store, *memJournal) {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	rec := &memJournal{}
	r := New(cfg, []broker.Broker{b}, store, rec, nil, zap.NewNop())
	return r, store, rec
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func baseConfig(tickers ...string) Config {
	return Config{
		Watchlist:      tickers,
		MaxDrawdownPct: 0.10,
		WashSaleDays:   31,
		Interval:       time.Minute,
	}
}

func TestRunCycle_CooldownBlocksBeforeAnyBrokerCall(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"TSLA": {Symbol: "TSLA", Price: 80}},
		positions: []broker.Position{{Symbol: "TSLA", Quantity: 10, AverageCost: 100}},
	}
	r, store, rec := newTestRunner(t, baseConfig("TSLA"), b)
	require.NoError(t, store.RecordLoss("TSLA", day("2026-08-20")))
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	require.Empty(t, b.calls, "a blocked ticker must not touch the broker")
	require.Empty(t, rec.orders)
	_, still := store.LossDate("TSLA")
	require.True(t, still, "entry stays until it expires")
}

func TestRunCycle_ExpiredEntryReEvaluatedSameCycle(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"TSLA": {Symbol: "TSLA", Price: 80}},
		positions: []broker.Position{{Symbol: "TSLA", Quantity: 10, AverageCost: 100}},
	}
	r, store, rec := newTestRunner(t, baseConfig("TSLA"), b)
	// 32 whole days old against a 31-day window: stale.
	require.NoError(t, store.RecordLoss("TSLA", day("2026-07-25")))
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	// The stale entry expired and the ticker was evaluated in the same pass;
	// the deep loss then triggered a sell and re-armed the cooldown for today.
	require.Equal(t,
		[]string{"MarketData:TSLA", "Positions", "PlaceOrder:TSLA"},
		b.calls)
	got, ok := store.LossDate("TSLA")
	require.True(t, ok)
	require.Equal(t, "2026-08-26", got.Format(state.DateLayout))

	require.Len(t, rec.washSales, 2)
	require.Equal(t, "EXPIRED", rec.washSales[0].Action)
	require.Equal(t, "ARMED", rec.washSales[1].Action)
}

func TestRunCycle_SellSuccessArmsCooldown(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"NVDA": {Symbol: "NVDA", Price: 88}},
		positions: []broker.Position{{Symbol: "NVDA", Quantity: 4, AverageCost: 100}},
	}
	r, store, rec := newTestRunner(t, baseConfig("NVDA"), b)
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	require.Contains(t, b.calls, "PlaceOrder:NVDA")
	got, ok := store.LossDate("NVDA")
	require.True(t, ok)
	require.Equal(t, "2026-08-26", got.Format(state.DateLayout))

	require.Len(t, rec.orders, 1)
	require.Equal(t, "FILLED", rec.orders[0].Status)
	require.EqualValues(t, 4, rec.orders[0].Quantity)
	require.Len(t, rec.verdicts, 1)
	require.Equal(t, string(engine.SellCritical), rec.verdicts[0].Verdict)
}

func TestRunCycle_SellFailureLeavesNoEntry(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"NVDA": {Symbol: "NVDA", Price: 88}},
		positions: []broker.Position{{Symbol: "NVDA", Quantity: 4, AverageCost: 100}},
		orderErr:  errors.New("rejected"),
	}
	r, store, rec := newTestRunner(t, baseConfig("NVDA"), b)
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	_, ok := store.LossDate("NVDA")
	require.False(t, ok, "an unconfirmed sell must not arm a cooldown")
	require.Len(t, rec.orders, 1)
	require.Equal(t, "FAILED", rec.orders[0].Status)
	require.Empty(t, rec.washSales)
}

func TestRunCycle_HoldPlacesNoOrder(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"SPY": {Symbol: "SPY", Price: 95}},
		positions: []broker.Position{{Symbol: "SPY", Quantity: 10, AverageCost: 100}},
	}
	r, store, rec := newTestRunner(t, baseConfig("SPY"), b)
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	require.NotContains(t, b.calls, "PlaceOrder:SPY")
	_, ok := store.LossDate("SPY")
	require.False(t, ok)
	require.Len(t, rec.verdicts, 1)
	require.Equal(t, string(engine.Hold), rec.verdicts[0].Verdict)
}

func TestRunCycle_NoPositionMonitorsOnly(t *testing.T) {
	b := &scriptedBroker{
		quotes: map[string]broker.Quote{"SPY": {Symbol: "SPY", Price: 500}},
	}
	r, _, rec := newTestRunner(t, baseConfig("SPY"), b)

	r.RunCycle(context.Background())

	require.Equal(t, []string{"MarketData:SPY", "Positions"}, b.calls)
	require.Empty(t, rec.verdicts)
	require.Empty(t, rec.orders)
}

func TestRunCycle_ZeroPriceSkipsTicker(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"SPY": {Symbol: "SPY", Price: 0}},
		positions: []broker.Position{{Symbol: "SPY", Quantity: 10, AverageCost: 100}},
	}
	r, _, rec := newTestRunner(t, baseConfig("SPY"), b)

	r.RunCycle(context.Background())

	require.Equal(t, []string{"MarketData:SPY"}, b.calls, "no position fetch without a usable price")
	require.Empty(t, rec.verdicts)
}

func TestRunCycle_DegeneratePositionSkipped(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"SPY": {Symbol: "SPY", Price: 500}},
		positions: []broker.Position{{Symbol: "SPY", Quantity: 10, AverageCost: 0}},
	}
	r, _, rec := newTestRunner(t, baseConfig("SPY"), b)

	r.RunCycle(context.Background())

	require.Empty(t, rec.verdicts, "zero cost basis must not be evaluated")
	require.NotContains(t, b.calls, "PlaceOrder:SPY")
}

func TestRunCycle_PositionCaseInsensitive(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"TSLA": {Symbol: "TSLA", Price: 80}},
		positions: []broker.Position{{Symbol: "tsla", Quantity: 3, AverageCost: 100}},
	}
	r, _, rec := newTestRunner(t, baseConfig("TSLA"), b)
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	require.Len(t, rec.verdicts, 1, "broker casing must not hide a position")
}

func TestRunCycle_PanicRecovered(t *testing.T) {
	b := &scriptedBroker{panicOn: "MarketData"}
	r, _, _ := newTestRunner(t, baseConfig("SPY", "QQQ"), b)

	require.NotPanics(t, func() { r.RunCycle(context.Background()) })
}

func TestRun_NoBrokersIsFatal(t *testing.T) {
	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	r := New(baseConfig("SPY"), nil, store, journal.NewNoopRecorder(), nil, zap.NewNop())

	err = r.Run(context.Background())
	require.Error(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	b := &scriptedBroker{}
	r, _, _ := newTestRunner(t, baseConfig(), b)
	r.cfg.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_NilRecorderDefaultsToNoop(t *testing.T) {
	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"NVDA": {Symbol: "NVDA", Price: 88}},
		positions: []broker.Position{{Symbol: "NVDA", Quantity: 4, AverageCost: 100}},
	}
	store, err := state.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	r := New(baseConfig("NVDA"), []broker.Broker{b}, store, nil, nil, zap.NewNop())
	r.now = func() time.Time { return day("2026-08-26") }

	// A full sell path exercises every recorder method.
	require.NotPanics(t, func() { r.RunCycle(context.Background()) })
	require.Contains(t, b.calls, "PlaceOrder:NVDA")
}

func TestRunCycle_PersistFailureKeepsEntryInMemory(t *testing.T) {
	// The state file's parent is created lazily on first save. Planting a
	// regular file where that directory belongs makes every save fail while
	// leaving the in-memory store working.
	dir := t.TempDir()
	store, err := state.Open(filepath.Join(dir, "sub", "state.json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub"), []byte("in the way"), 0o644))

	b := &scriptedBroker{
		quotes:    map[string]broker.Quote{"NVDA": {Symbol: "NVDA", Price: 88}},
		positions: []broker.Position{{Symbol: "NVDA", Quantity: 4, AverageCost: 100}},
	}
	rec := &memJournal{}
	r := New(baseConfig("NVDA"), []broker.Broker{b}, store, rec, nil, zap.NewNop())
	r.now = func() time.Time { return day("2026-08-26") }

	r.RunCycle(context.Background())

	// The sell went through; the cooldown entry survives in memory even
	// though the write-through failed, and the cycle carried on to journal it.
	require.Contains(t, b.calls, "PlaceOrder:NVDA")
	got, ok := store.LossDate("NVDA")
	require.True(t, ok, "entry must stay in memory when the save fails")
	require.Equal(t, "2026-08-26", got.Format(state.DateLayout))
	require.Len(t, rec.washSales, 1)
	require.Equal(t, "ARMED", rec.washSales[0].Action)

	// With the obstruction gone the next save writes the entry through.
	require.NoError(t, os.Remove(filepath.Join(dir, "sub")))
	require.NoError(t, store.Save())
	reopened, err := state.Open(filepath.Join(dir, "sub", "state.json"))
	require.NoError(t, err)
	_, ok = reopened.LossDate("NVDA")
	require.True(t, ok)
}

func TestRunCycle_OptionsPassNotifiesOpportunity(t *testing.T) {
	contract := broker.OptionContract{Symbol: "SPY260918C00500000", Underlying: "SPY", Type: "CALL", Strike: 500}
	b := &scriptedBroker{
		quotes: map[string]broker.Quote{"SPY": {Symbol: "SPY", Price: 505}},
		chain:  []broker.OptionContract{contract},
	}
	cfg := baseConfig()
	cfg.OptionsWatchlist = []string{"SPY"}
	r, _, _ := newTestRunner(t, cfg, b)

	var seen *engine.Opportunity
	r.SetOptionsEvaluator(func(ticker string, price float64, chain []broker.OptionContract) *engine.Opportunity {
		seen = &engine.Opportunity{Ticker: ticker, Contract: chain[0], Reason: "test"}
		return seen
	})

	r.RunCycle(context.Background())

	require.NotNil(t, seen)
	require.Equal(t, []string{"MarketData:SPY", "OptionsChain:SPY"}, b.calls)
}
