package broker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AlpacaConfig carries the credentials for the live adapter. BaseURL selects
// paper vs production trading.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// AlpacaBroker is the live-API-backed Broker. All remote calls go through a
// shared rate limiter so a long watchlist cannot trip API throttling.
type AlpacaBroker struct {
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
	limiter     *rate.Limiter
	log         *zap.Logger
	connected   bool
}

var _ Broker = (*AlpacaBroker)(nil)

func NewAlpacaBroker(cfg AlpacaConfig, log *zap.Logger) *AlpacaBroker {
	return &AlpacaBroker{
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		mdClient: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		// 200 req/min on the free tier; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(2), 5),
		log:     log.Named("alpaca"),
	}
}

func (b *AlpacaBroker) Name() string { return "alpaca" }

// Connect verifies the credentials with an account fetch.
func (b *AlpacaBroker) Connect(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	acct, err := b.tradeClient.GetAccount()
	if err != nil {
		return errors.Wrap(err, "alpaca: verify credentials")
	}
	b.connected = true
	b.log.Info("connected", zap.String("account_id", acct.ID))
	return nil
}

func (b *AlpacaBroker) AccountInfo(ctx context.Context) (Account, error) {
	if err := b.ready(ctx); err != nil {
		return Account{}, err
	}
	acct, err := b.tradeClient.GetAccount()
	if err != nil {
		return Account{}, errors.Wrap(err, "alpaca: get account")
	}
	return Account{
		ID:          acct.ID,
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// Positions returns current holdings with dividend income attached. Alpaca
// does not report dividends on the position record, so they are summed from
// DIV account activities per symbol.
func (b *AlpacaBroker) Positions(ctx context.Context) ([]Position, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	raw, err := b.tradeClient.GetPositions()
	if err != nil {
		return nil, errors.Wrap(err, "alpaca: get positions")
	}

	dividends, err := b.dividendsBySymbol(ctx)
	if err != nil {
		// Dividend history failing should not hide the positions themselves;
		// verdicts just see zero income, which only errs toward selling later.
		b.log.Warn("dividend activities unavailable", zap.Error(err))
		dividends = map[string]float64{}
	}

	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		marketValue := decimal.Zero
		if p.MarketValue != nil {
			marketValue = *p.MarketValue
		}
		symbol := strings.ToUpper(p.Symbol)
		out = append(out, Position{
			Symbol:      symbol,
			Quantity:    p.Qty.IntPart(),
			AverageCost: p.AvgEntryPrice.InexactFloat64(),
			Dividends:   dividends[symbol],
			MarketValue: marketValue.InexactFloat64(),
		})
	}
	return out, nil
}

func (b *AlpacaBroker) dividendsBySymbol(ctx context.Context) (map[string]float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	activities, err := b.tradeClient.GetAccountActivities(alpaca.GetAccountActivitiesRequest{
		ActivityTypes: []string{"DIV"},
	})
	if err != nil {
		return nil, err
	}
	sums := map[string]float64{}
	for _, a := range activities {
		if a.Symbol == "" {
			continue
		}
		sums[strings.ToUpper(a.Symbol)] += a.NetAmount.InexactFloat64()
	}
	return sums, nil
}

// MarketData fetches one snapshot: last trade price plus the indicator fields
// the logs and reports use.
func (b *AlpacaBroker) MarketData(ctx context.Context, ticker string) (Quote, error) {
	if err := b.ready(ctx); err != nil {
		return Quote{}, err
	}
	snap, err := b.mdClient.GetSnapshot(ticker, marketdata.GetSnapshotRequest{})
	if err != nil {
		return Quote{}, errors.Wrapf(err, "alpaca: snapshot %s", ticker)
	}
	if snap == nil || snap.LatestTrade == nil {
		return Quote{Symbol: ticker}, nil
	}

	q := Quote{
		Symbol:    strings.ToUpper(ticker),
		Price:     snap.LatestTrade.Price,
		Timestamp: snap.LatestTrade.Timestamp,
	}
	if snap.LatestQuote != nil {
		q.Bid = snap.LatestQuote.BidPrice
		q.Ask = snap.LatestQuote.AskPrice
	}
	if snap.DailyBar != nil {
		q.High = snap.DailyBar.High
		q.Low = snap.DailyBar.Low
		q.Volume = int64(snap.DailyBar.Volume)
	}
	return q, nil
}

func (b *AlpacaBroker) OptionsChain(ctx context.Context, ticker, expiration string) ([]OptionContract, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	req := marketdata.GetOptionChainRequest{TotalLimit: 100}
	if expiration != "" {
		day, err := civil.ParseDate(expiration)
		if err != nil {
			return nil, errors.Wrapf(err, "alpaca: bad expiration %q", expiration)
		}
		req.ExpirationDate = day
	}
	chain, err := b.mdClient.GetOptionChain(ticker, req)
	if err != nil {
		return nil, errors.Wrapf(err, "alpaca: option chain %s", ticker)
	}

	out := make([]OptionContract, 0, len(chain))
	for symbol, snap := range chain {
		c, err := parseOCC(symbol)
		if err != nil {
			b.log.Debug("skipping unparseable option symbol", zap.String("symbol", symbol))
			continue
		}
		if snap.LatestQuote != nil {
			c.Bid = snap.LatestQuote.BidPrice
			c.Ask = snap.LatestQuote.AskPrice
		}
		if snap.LatestTrade != nil {
			c.Last = snap.LatestTrade.Price
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *AlpacaBroker) PlaceOrder(ctx context.Context, req OrderRequest) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	symbol := strings.ToUpper(req.Symbol)
	if req.Option != nil {
		symbol = occSymbol(symbol, req.Option)
	}

	qty := decimal.NewFromInt(req.Quantity)
	order := alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if req.Side == Sell {
		order.Side = alpaca.Sell
	}
	if req.Type == Limit {
		if req.LimitPrice <= 0 {
			return errors.New("alpaca: limit order requires a positive limit price")
		}
		limit := decimal.NewFromFloat(req.LimitPrice)
		order.Type = alpaca.Limit
		order.LimitPrice = &limit
	}

	placed, err := b.tradeClient.PlaceOrder(order)
	if err != nil {
		return errors.Wrapf(err, "alpaca: place %s %s", req.Side, symbol)
	}
	b.log.Info("order accepted",
		zap.String("order_id", placed.ID),
		zap.String("symbol", symbol),
		zap.String("side", string(req.Side)),
		zap.Int64("quantity", req.Quantity),
	)
	return nil
}

// IsETF is a best-effort check: Alpaca classifies ETFs as plain US equities,
// so the asset name is the only signal.
func (b *AlpacaBroker) IsETF(ctx context.Context, ticker string) (bool, error) {
	if err := b.ready(ctx); err != nil {
		return false, err
	}
	asset, err := b.tradeClient.GetAsset(ticker)
	if err != nil {
		return false, errors.Wrapf(err, "alpaca: get asset %s", ticker)
	}
	return strings.Contains(strings.ToUpper(asset.Name), "ETF"), nil
}

func (b *AlpacaBroker) ready(ctx context.Context) error {
	if !b.connected {
		return errors.New("alpaca: not connected")
	}
	return b.limiter.Wait(ctx)
}

// occSymbol builds an OCC option symbol: underlying, YYMMDD expiration,
// C/P, strike in thousandths padded to 8 digits.
func occSymbol(underlying string, leg *OptionLeg) string {
	exp := strings.ReplaceAll(leg.Expiration, "-", "")
	if len(exp) == 8 {
		exp = exp[2:] // YYYYMMDD -> YYMMDD
	}
	cp := "C"
	if strings.EqualFold(leg.Type, "PUT") {
		cp = "P"
	}
	// Round, don't truncate: strikes like 2.01 sit just below their exact
	// value in float64 and would otherwise come out one milli-dollar low.
	return fmt.Sprintf("%s%s%s%08d", underlying, exp, cp, int64(math.Round(leg.Strike*1000)))
}

// parseOCC splits an OCC symbol back into contract fields.
func parseOCC(symbol string) (OptionContract, error) {
	// Shortest legal symbol: 1-char root + 6-date + C/P + 8-strike.
	if len(symbol) < 16 {
		return OptionContract{}, errors.Errorf("option symbol too short: %q", symbol)
	}
	strikePart := symbol[len(symbol)-8:]
	cp := symbol[len(symbol)-9]
	datePart := symbol[len(symbol)-15 : len(symbol)-9]
	root := symbol[:len(symbol)-15]

	strikeMils, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil {
		return OptionContract{}, errors.Wrapf(err, "option strike in %q", symbol)
	}
	typ := "CALL"
	if cp == 'P' {
		typ = "PUT"
	} else if cp != 'C' {
		return OptionContract{}, errors.Errorf("option type in %q", symbol)
	}

	return OptionContract{
		Symbol:     symbol,
		Underlying: root,
		Type:       typ,
		Strike:     float64(strikeMils) / 1000,
		Expiration: "20" + datePart[0:2] + "-" + datePart[2:4] + "-" + datePart[4:6],
	}, nil
}
