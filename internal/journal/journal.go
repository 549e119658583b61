// Package journal persists a queryable history of what the bot decided and
// did. Journalling is best-effort: a failed insert is logged by the caller
// and never blocks trading.
package journal

// VerdictEvent is one erosion evaluation of a held position.
type VerdictEvent struct {
	Broker      string
	Ticker      string
	Price       float64
	AverageCost float64
	Dividends   float64
	Quantity    int64
	Verdict     string
}

// OrderEvent is one order attempt.
type OrderEvent struct {
	Broker   string
	Ticker   string
	Side     string
	Quantity int64
	Status   string // FILLED or FAILED
	Detail   string
}

// WashSaleEvent is a cooldown entry being armed or expiring.
type WashSaleEvent struct {
	Ticker   string
	Action   string // ARMED or EXPIRED
	LossDate string
}

// Recorder persists bot history.
type Recorder interface {
	RecordVerdict(evt *VerdictEvent) error
	RecordOrder(evt *OrderEvent) error
	RecordWashSale(evt *WashSaleEvent) error
	Close() error
}

// NoopRecorder discards everything. Used when no journal path is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (*NoopRecorder) RecordVerdict(*VerdictEvent) error   { return nil }
func (*NoopRecorder) RecordOrder(*OrderEvent) error       { return nil }
func (*NoopRecorder) RecordWashSale(*WashSaleEvent) error { return nil }
func (*NoopRecorder) Close() error                        { return nil }
