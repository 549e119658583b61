// Package broker abstracts the brokerage APIs the bot trades through. The
// cycle runner treats every variant uniformly through the Broker interface
// and keeps only the ones that connected at startup.
package broker

import (
	"context"
	"time"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Account is a thin snapshot of account-level numbers, used for reporting.
type Account struct {
	ID          string
	Equity      float64
	Cash        float64
	BuyingPower float64
}

// Position is a broker-reported holding. Ephemeral: fetched per cycle,
// discarded after the verdict.
type Position struct {
	Symbol      string
	Quantity    int64
	AverageCost float64
	// Dividends is the total dividend income received for the symbol, as far
	// as the broker can report it. Zero when the broker cannot.
	Dividends   float64
	MarketValue float64
}

// Quote is a point-in-time market snapshot. Only Price feeds decisions; the
// rest is for logs and reports.
type Quote struct {
	Symbol    string
	Price     float64
	Bid       float64
	Ask       float64
	High      float64
	Low       float64
	Volume    int64
	Timestamp time.Time
}

// OptionContract is one leg of an options chain.
type OptionContract struct {
	Symbol     string
	Underlying string
	Type       string // CALL or PUT
	Strike     float64
	Expiration string // YYYY-MM-DD
	Bid        float64
	Ask        float64
	Last       float64
}

// OptionLeg carries the option-specific fields of an order.
type OptionLeg struct {
	Type       string // CALL or PUT
	Strike     float64
	Expiration string
}

// OrderRequest describes a single-leg order. LimitPrice is required for
// LIMIT orders and ignored otherwise.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Quantity   int64
	Type       OrderType
	LimitPrice float64
	Option     *OptionLeg
}

// Broker is the capability set the bot requires of any brokerage.
//
// Failure conventions follow the cycle runner's expectations: data fetches
// return an error (or a zero-price quote) on unavailability and the runner
// skips the ticker; PlaceOrder returns a non-nil error whenever the order was
// not confirmed, since a confirmed sell is what arms a wash-sale entry.
type Broker interface {
	Name() string
	Connect(ctx context.Context) error
	AccountInfo(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]Position, error)
	MarketData(ctx context.Context, ticker string) (Quote, error)
	OptionsChain(ctx context.Context, ticker, expiration string) ([]OptionContract, error)
	PlaceOrder(ctx context.Context, req OrderRequest) error
	IsETF(ctx context.Context, ticker string) (bool, error)
}
