// Package engine holds the decision rules: the capital-erosion verdict and
// the wash-sale cooldown state machine. Everything here is synchronous and
// does no I/O beyond the cooldown log handed in by the caller.
package engine

import "math"

// Verdict is the decision for a held position.
type Verdict string

const (
	Hold         Verdict = "HOLD"
	SellCritical Verdict = "SELL_CRITICAL"
)

// EvaluateErosion decides whether a position's capital erosion has outrun its
// dividend income.
//
// capitalLoss = price - averageCost (negative is a loss); dividends offset it.
// SELL_CRITICAL requires both: the net position is still under water after
// dividends, and the raw loss strictly exceeds averageCost * maxDrawdownPct.
// A loss exactly at the threshold holds.
func EvaluateErosion(currentPrice, averageCost, totalDividends, maxDrawdownPct float64) Verdict {
	capitalLoss := currentPrice - averageCost
	netPosition := capitalLoss + totalDividends

	if netPosition < 0 && math.Abs(capitalLoss) > averageCost*maxDrawdownPct {
		return SellCritical
	}
	return Hold
}

// RealPosition reports whether broker data describes a position worth
// evaluating. A zero average cost degenerates the drawdown threshold to zero
// (any loss would trigger a sell), and a zero quantity leaves nothing to
// sell, so both are treated as "no position" and skipped upstream.
func RealPosition(quantity int64, averageCost float64) bool {
	return quantity > 0 && averageCost > 0
}
