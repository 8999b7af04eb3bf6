// Package equity builds a user's simulated equity curve by scaling each
// strategy's reference performance series to the user's invested
// principal and accumulating across positions by date.
package equity

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// Point is one dated value of the aggregated curve, in minor units.
type Point struct {
	Date  string   `json:"date"`
	Value *big.Int `json:"value"`
}

// Result is the aggregated simulated equity view for one user.
type Result struct {
	// Series is the dated curve, ascending by date. Positions whose
	// strategy has no usable performance history contribute to the totals
	// below but not to the series.
	Series            []Point             `json:"series"`
	TotalPrincipal    *big.Int            `json:"total_principal"`
	TotalCurrentValue *big.Int            `json:"total_current_value"`
	ByStrategy        map[string]*big.Int `json:"by_strategy"`
}

// Aggregator computes simulated equity curves from positions and
// strategy performance series.
type Aggregator struct {
	positions   storage.PositionStore
	performance storage.PerformanceStore
}

// NewAggregator builds an aggregator over the given stores.
func NewAggregator(positions storage.PositionStore, performance storage.PerformanceStore) (*Aggregator, error) {
	if positions == nil || performance == nil {
		return nil, fmt.Errorf("equity: position and performance stores are required: %w", storage.ErrInvalidInput)
	}
	return &Aggregator{positions: positions, performance: performance}, nil
}

// scalePoint computes equity * principal / baseline exactly in integers.
func scalePoint(equity, principal, baseline *big.Int) *big.Int {
	v := new(big.Int).Mul(equity, principal)
	return v.Quo(v, baseline)
}

// ForUser aggregates the simulated equity curve across a user's open
// positions. Each strategy's series is scaled by principal/baseline where
// baseline is the first snapshot's equity; same-date points from
// different positions are summed. A position falls back to its stored
// current value when it has zero principal, the strategy has no history,
// or the baseline equity is zero.
func (a *Aggregator) ForUser(ctx context.Context, userID string) (*Result, error) {
	positions, err := a.positions.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions for user %s: %w", userID, err)
	}

	result := &Result{
		TotalPrincipal:    new(big.Int),
		TotalCurrentValue: new(big.Int),
		ByStrategy:        make(map[string]*big.Int),
	}
	byDate := make(map[string]*big.Int)

	// Performance series are per strategy, not per position; fetch once.
	perfCache := make(map[string][]*domain.PerformanceSnapshot)

	for _, p := range positions {
		if p.Status == domain.PositionClosed {
			continue
		}

		result.TotalPrincipal.Add(result.TotalPrincipal, p.Principal)
		result.TotalCurrentValue.Add(result.TotalCurrentValue, p.CurrentValue)

		current, ok := result.ByStrategy[p.StrategyID]
		if !ok {
			current = new(big.Int)
			result.ByStrategy[p.StrategyID] = current
		}
		current.Add(current, p.CurrentValue)

		perf, cached := perfCache[p.StrategyID]
		if !cached {
			perf, err = a.performance.GetByStrategy(ctx, p.StrategyID)
			if err != nil {
				return nil, fmt.Errorf("load performance for strategy %s: %w", p.StrategyID, err)
			}
			perfCache[p.StrategyID] = perf
		}

		if p.Principal.Sign() == 0 || len(perf) == 0 || perf[0].Equity.Sign() == 0 {
			continue
		}

		baseline := perf[0].Equity
		for _, snap := range perf {
			scaled := scalePoint(snap.Equity, p.Principal, baseline)
			acc, ok := byDate[snap.Date]
			if !ok {
				acc = new(big.Int)
				byDate[snap.Date] = acc
			}
			acc.Add(acc, scaled)
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	result.Series = make([]Point, 0, len(dates))
	for _, d := range dates {
		result.Series = append(result.Series, Point{Date: d, Value: byDate[d]})
	}

	return result, nil
}
