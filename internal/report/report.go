// Package report renders a plain-text portfolio summary from a broker plus
// the wash-sale log. Read-only: it never mutates bot state.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"washguard/internal/broker"
	"washguard/internal/state"
)

// Build fetches account and position data from one broker and formats a
// summary, including any active wash-sale cooldowns.
func Build(ctx context.Context, b broker.Broker, store *state.Store, washSaleDays int, now time.Time) (string, error) {
	acct, err := b.AccountInfo(ctx)
	if err != nil {
		return "", err
	}
	positions, err := b.Positions(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s portfolio - %s\n", b.Name(), now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&sb, "account %s  equity $%.2f  cash $%.2f\n\n", acct.ID, acct.Equity, acct.Cash)

	if len(positions) == 0 {
		sb.WriteString("no open positions\n")
	} else {
		sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

		var totalCost, totalValue float64
		for _, p := range positions {
			cost := p.AverageCost * float64(p.Quantity)
			totalCost += cost
			totalValue += p.MarketValue

			gain := p.MarketValue - cost
			pct := 0.0
			if cost > 0 {
				pct = gain / cost * 100
			}
			fmt.Fprintf(&sb, "%-6s %6d @ $%.2f  value $%.2f  p/l %+.2f (%+.2f%%)  div $%.2f\n",
				p.Symbol, p.Quantity, p.AverageCost, p.MarketValue, gain, pct, p.Dividends)
		}

		totalGain := totalValue - totalCost
		totalPct := 0.0
		if totalCost > 0 {
			totalPct = totalGain / totalCost * 100
		}
		fmt.Fprintf(&sb, "\ncost basis $%.2f  value $%.2f  p/l %+.2f (%+.2f%%)\n",
			totalCost, totalValue, totalGain, totalPct)
	}

	cooldowns := store.CooldownTickers()
	if len(cooldowns) > 0 {
		sb.WriteString("\nwash-sale cooldowns:\n")
		tickers := make([]string, 0, len(cooldowns))
		for t := range cooldowns {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, t := range tickers {
			line := fmt.Sprintf("%-6s since %s", t, cooldowns[t])
			if lossDate, err := time.Parse(state.DateLayout, cooldowns[t]); err == nil {
				remaining := washSaleDays - int(now.Sub(lossDate).Hours()/24)
				if remaining > 0 {
					line += fmt.Sprintf("  %d days remaining", remaining)
				} else {
					line += "  expires next cycle"
				}
			}
			sb.WriteString(line + "\n")
		}
	}

	return sb.String(), nil
}
