package engine

import "washguard/internal/broker"

// Opportunity describes an options trade a strategy wants surfaced. Nothing
// acts on it automatically; the cycle runner logs and notifies.
type Opportunity struct {
	Ticker   string
	Contract broker.OptionContract
	Reason   string
}

// OptionsEvaluator inspects a ticker's options chain and returns an
// opportunity, or nil when there is nothing to do. This is an extension
// point: no strategy ships with the bot.
type OptionsEvaluator func(ticker string, price float64, chain []broker.OptionContract) *Opportunity

// NoOptionsStrategy is the default evaluator. It never finds anything.
func NoOptionsStrategy(string, float64, []broker.OptionContract) *Opportunity {
	return nil
}
