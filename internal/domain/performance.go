package domain

import "math/big"

// PerformanceSnapshot is one day of a strategy's append-only reference
// equity series. Equity is in minor units; Date is YYYY-MM-DD.
type PerformanceSnapshot struct {
	StrategyID string   `json:"strategy_id"`
	DayIndex   int      `json:"day_index"`
	Date       string   `json:"date"`
	Equity     *big.Int `json:"equity"`
	Benchmark  *big.Int `json:"benchmark,omitempty"`
}
