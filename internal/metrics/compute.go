// Package metrics derives performance metrics from strategy trade lists.
package metrics

import (
	"math"
	"math/big"

	"invest-sim-lab/internal/domain"
)

// Stats holds running trade statistics accumulated during a session.
// Monetary fields are minor-unit integers.
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	GrossProfit *big.Int // sum of positive net P&L
	GrossLoss   *big.Int // absolute sum of negative net P&L
	Fees        *big.Int
	NetPnL      *big.Int
}

// NewStats returns zeroed running statistics.
func NewStats() *Stats {
	return &Stats{
		GrossProfit: new(big.Int),
		GrossLoss:   new(big.Int),
		Fees:        new(big.Int),
		NetPnL:      new(big.Int),
	}
}

// Add folds one trade into the running statistics.
func (s *Stats) Add(t *domain.Trade) {
	s.TotalTrades++
	s.NetPnL.Add(s.NetPnL, t.NetPnL)

	switch t.NetPnL.Sign() {
	case 1:
		s.Wins++
		s.GrossProfit.Add(s.GrossProfit, t.NetPnL)
	case -1:
		s.Losses++
		s.GrossLoss.Sub(s.GrossLoss, t.NetPnL)
	default:
		// Flat trades count as losses for win-rate purposes.
		s.Losses++
	}
}

// Summary is the derived performance view of a trade list.
type Summary struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRatePct  float64 `json:"win_rate_pct"`
	AvgHoldBars float64 `json:"avg_hold_bars"`
	AvgPnLPct   float64 `json:"avg_pnl_pct"`
	// ProfitFactor is gains/losses. +Inf when losses are zero and gains
	// positive; 0 when both are zero.
	ProfitFactor float64 `json:"profit_factor"`
	NetPnL       *big.Int `json:"net_pnl"`
}

// Compute aggregates a trade list into a performance summary.
// startingEquity is the configured reference equity in minor units used
// for the average P&L percentage; a nil or zero value yields 0 there.
func Compute(trades []*domain.Trade, startingEquity *big.Int) *Summary {
	stats := NewStats()
	var holdBars int
	for _, t := range trades {
		stats.Add(t)
		holdBars += t.HoldBars
	}

	summary := &Summary{
		TotalTrades:  stats.TotalTrades,
		Wins:         stats.Wins,
		Losses:       stats.Losses,
		ProfitFactor: ProfitFactor(stats.GrossProfit, stats.GrossLoss),
		NetPnL:       stats.NetPnL,
	}

	if stats.TotalTrades == 0 {
		return summary
	}

	n := float64(stats.TotalTrades)
	summary.WinRatePct = float64(stats.Wins) / n * 100
	summary.AvgHoldBars = float64(holdBars) / n

	if startingEquity != nil && startingEquity.Sign() != 0 {
		total := ratio(stats.NetPnL, startingEquity) * 100
		summary.AvgPnLPct = total / n
	}

	return summary
}

// ProfitFactor computes gains/losses with the exact edge cases:
// losses = 0 and gains > 0 → positive infinity; both zero → 0.
func ProfitFactor(gains, losses *big.Int) float64 {
	if losses.Sign() == 0 {
		if gains.Sign() > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return ratio(gains, losses)
}

// ratio converts an exact integer quotient into a display float.
func ratio(num, den *big.Int) float64 {
	q := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den))
	f, _ := q.Float64()
	return f
}
