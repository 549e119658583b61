package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PaperPosition seeds a holding in the paper broker.
type PaperPosition struct {
	Symbol      string
	Quantity    int64
	AverageCost float64
	Dividends   float64
	// BasePrice anchors the simulated quote walk. Defaults to AverageCost.
	BasePrice float64
}

// PaperBroker is an in-memory Broker: quotes follow a small random walk
// around a base price, orders always fill and update the book immediately.
// It stands in for a second live brokerage and doubles as the test double.
type PaperBroker struct {
	mu        sync.Mutex
	positions map[string]*PaperPosition
	prices    map[string]float64
	random    *rand.Rand
	log       *zap.Logger
	connected bool
}

var _ Broker = (*PaperBroker)(nil)

func NewPaperBroker(seed []PaperPosition, log *zap.Logger) *PaperBroker {
	b := &PaperBroker{
		positions: map[string]*PaperPosition{},
		prices:    map[string]float64{},
		random:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log.Named("paper"),
	}
	for _, p := range seed {
		p := p
		p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
		if p.BasePrice == 0 {
			p.BasePrice = p.AverageCost
		}
		b.positions[p.Symbol] = &p
		b.prices[p.Symbol] = p.BasePrice
	}
	return b
}

func (b *PaperBroker) Name() string { return "paper" }

func (b *PaperBroker) Connect(ctx context.Context) error {
	b.connected = true
	b.log.Info("paper broker ready", zap.Int("seeded_positions", len(b.positions)))
	return nil
}

func (b *PaperBroker) AccountInfo(ctx context.Context) (Account, error) {
	if !b.connected {
		return Account{}, errors.New("paper: not connected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := 0.0
	for sym, p := range b.positions {
		equity += b.prices[sym] * float64(p.Quantity)
	}
	return Account{ID: "paper", Equity: equity}, nil
}

func (b *PaperBroker) Positions(ctx context.Context) ([]Position, error) {
	if !b.connected {
		return nil, errors.New("paper: not connected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Position, 0, len(b.positions))
	for sym, p := range b.positions {
		if p.Quantity == 0 {
			continue
		}
		out = append(out, Position{
			Symbol:      sym,
			Quantity:    p.Quantity,
			AverageCost: p.AverageCost,
			Dividends:   p.Dividends,
			MarketValue: b.prices[sym] * float64(p.Quantity),
		})
	}
	return out, nil
}

// MarketData walks the symbol's price by up to ±0.5% per call. Unknown
// symbols get a price seeded off the symbol text so repeated runs behave.
func (b *PaperBroker) MarketData(ctx context.Context, ticker string) (Quote, error) {
	if !b.connected {
		return Quote{}, errors.New("paper: not connected")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sym := strings.ToUpper(strings.TrimSpace(ticker))
	price, ok := b.prices[sym]
	if !ok {
		price = 20 + float64(len(sym)*13%180)
	}
	price *= 1 + (b.random.Float64()-0.5)*0.01
	price = math.Round(price*100) / 100
	b.prices[sym] = price

	spread := price * 0.0005
	return Quote{
		Symbol:    sym,
		Price:     price,
		Bid:       price - spread,
		Ask:       price + spread,
		High:      price * 1.01,
		Low:       price * 0.99,
		Volume:    int64(100000 + b.random.Intn(900000)),
		Timestamp: time.Now(),
	}, nil
}

// OptionsChain fabricates a five-strike monthly chain around the current price.
func (b *PaperBroker) OptionsChain(ctx context.Context, ticker, expiration string) ([]OptionContract, error) {
	quote, err := b.MarketData(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if expiration == "" {
		expiration = time.Now().AddDate(0, 1, 0).Format("2006-01-02")
	}

	var chain []OptionContract
	base := math.Round(quote.Price/5) * 5
	for i := -2; i <= 2; i++ {
		strike := base + float64(i)*5
		if strike <= 0 {
			continue
		}
		for _, typ := range []string{"CALL", "PUT"} {
			premium := math.Max(0.05, math.Abs(quote.Price-strike)*0.2+quote.Price*0.01)
			chain = append(chain, OptionContract{
				Symbol:     fmt.Sprintf("%s %s %s %.2f", quote.Symbol, expiration, typ, strike),
				Underlying: quote.Symbol,
				Type:       typ,
				Strike:     strike,
				Expiration: expiration,
				Bid:        premium * 0.95,
				Ask:        premium * 1.05,
				Last:       premium,
			})
		}
	}
	return chain, nil
}

// PlaceOrder fills immediately at the current simulated price.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) error {
	if !b.connected {
		return errors.New("paper: not connected")
	}
	if req.Quantity <= 0 {
		return errors.New("paper: quantity must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	pos := b.positions[sym]

	switch req.Side {
	case Sell:
		if pos == nil || pos.Quantity < req.Quantity {
			return errors.Errorf("paper: insufficient quantity to sell %d %s", req.Quantity, sym)
		}
		pos.Quantity -= req.Quantity
	case Buy:
		price := b.prices[sym]
		if pos == nil {
			pos = &PaperPosition{Symbol: sym, BasePrice: price}
			b.positions[sym] = pos
		}
		total := pos.AverageCost*float64(pos.Quantity) + price*float64(req.Quantity)
		pos.Quantity += req.Quantity
		pos.AverageCost = total / float64(pos.Quantity)
	default:
		return errors.Errorf("paper: unknown side %q", req.Side)
	}

	b.log.Info("paper fill",
		zap.String("symbol", sym),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
	)
	return nil
}

func (b *PaperBroker) IsETF(ctx context.Context, ticker string) (bool, error) {
	if !b.connected {
		return false, errors.New("paper: not connected")
	}
	switch strings.ToUpper(strings.TrimSpace(ticker)) {
	case "SPY", "QQQ", "IWM", "DIA", "VOO", "VTI", "ULTY":
		return true, nil
	}
	return false, nil
}

// SetPrice pins a symbol's next quote. Tests drive scenarios with it.
func (b *PaperBroker) SetPrice(ticker string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[strings.ToUpper(strings.TrimSpace(ticker))] = price
}
