package equity

import (
	"context"
	"math/big"
	"testing"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage/memory"
)

func seedPerf(t *testing.T, store *memory.PerformanceStore, strategyID string, equities ...int64) {
	t.Helper()

	dates := []string{"2026-01-01", "2026-01-02", "2026-01-03", "2026-01-04"}
	points := make([]*domain.PerformanceSnapshot, len(equities))
	for i, eq := range equities {
		points[i] = &domain.PerformanceSnapshot{
			StrategyID: strategyID,
			DayIndex:   i,
			Date:       dates[i],
			Equity:     big.NewInt(eq),
		}
	}
	if err := store.InsertBulk(context.Background(), points); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
}

func position(id, strategyID string, principal, current int64) *domain.Position {
	return &domain.Position{
		PositionID:   id,
		UserID:       "user-1",
		StrategyID:   strategyID,
		Principal:    big.NewInt(principal),
		CurrentValue: big.NewInt(current),
		Status:       domain.PositionOpen,
	}
}

func TestForUser_ScalesAndAccumulates(t *testing.T) {
	ctx := context.Background()
	holdings := memory.NewHoldingsStore()
	perf := memory.NewPerformanceStore()

	// Strategy alpha doubles over two days, beta gains 50%.
	seedPerf(t, perf, "alpha", 1000, 2000)
	seedPerf(t, perf, "beta", 100, 150)

	holdings.SetPosition(position("p1", "alpha", 10_000, 20_000))
	holdings.SetPosition(position("p2", "beta", 4_000, 6_000))

	agg, err := NewAggregator(holdings.Positions(), perf)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	res, err := agg.ForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}

	// Day 1: 10000*1000/1000 + 4000*100/100 = 14000.
	// Day 2: 10000*2000/1000 + 4000*150/100 = 26000.
	if len(res.Series) != 2 {
		t.Fatalf("series length = %d, want 2", len(res.Series))
	}
	if res.Series[0].Date != "2026-01-01" || res.Series[0].Value.Cmp(big.NewInt(14_000)) != 0 {
		t.Errorf("series[0] = %s %v, want 2026-01-01 14000", res.Series[0].Date, res.Series[0].Value)
	}
	if res.Series[1].Date != "2026-01-02" || res.Series[1].Value.Cmp(big.NewInt(26_000)) != 0 {
		t.Errorf("series[1] = %s %v, want 2026-01-02 26000", res.Series[1].Date, res.Series[1].Value)
	}
	if res.TotalPrincipal.Cmp(big.NewInt(14_000)) != 0 {
		t.Errorf("TotalPrincipal = %v, want 14000", res.TotalPrincipal)
	}
	if res.TotalCurrentValue.Cmp(big.NewInt(26_000)) != 0 {
		t.Errorf("TotalCurrentValue = %v, want 26000", res.TotalCurrentValue)
	}
	if res.ByStrategy["alpha"].Cmp(big.NewInt(20_000)) != 0 {
		t.Errorf("ByStrategy[alpha] = %v, want 20000", res.ByStrategy["alpha"])
	}
}

func TestForUser_FallbackWithoutHistory(t *testing.T) {
	ctx := context.Background()
	holdings := memory.NewHoldingsStore()
	perf := memory.NewPerformanceStore()

	holdings.SetPosition(position("p1", "unlisted", 5_000, 5_500))

	agg, err := NewAggregator(holdings.Positions(), perf)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	res, err := agg.ForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}

	// No series without history, but totals still reflect current value.
	if len(res.Series) != 0 {
		t.Errorf("series = %v, want empty", res.Series)
	}
	if res.TotalCurrentValue.Cmp(big.NewInt(5_500)) != 0 {
		t.Errorf("TotalCurrentValue = %v, want 5500", res.TotalCurrentValue)
	}
	if res.ByStrategy["unlisted"].Cmp(big.NewInt(5_500)) != 0 {
		t.Errorf("ByStrategy[unlisted] = %v, want 5500", res.ByStrategy["unlisted"])
	}
}

func TestForUser_ZeroBaselineFallsBack(t *testing.T) {
	ctx := context.Background()
	holdings := memory.NewHoldingsStore()
	perf := memory.NewPerformanceStore()

	seedPerf(t, perf, "broken", 0, 100)
	holdings.SetPosition(position("p1", "broken", 1_000, 900))

	agg, err := NewAggregator(holdings.Positions(), perf)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	res, err := agg.ForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(res.Series) != 0 {
		t.Errorf("zero baseline must not produce series, got %v", res.Series)
	}
	if res.TotalCurrentValue.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("TotalCurrentValue = %v, want 900", res.TotalCurrentValue)
	}
}

func TestForUser_ClosedPositionsExcluded(t *testing.T) {
	ctx := context.Background()
	holdings := memory.NewHoldingsStore()
	perf := memory.NewPerformanceStore()

	seedPerf(t, perf, "alpha", 1000, 1100)

	closed := position("p1", "alpha", 10_000, 0)
	closed.Status = domain.PositionClosed
	holdings.SetPosition(closed)

	agg, err := NewAggregator(holdings.Positions(), perf)
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}

	res, err := agg.ForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("ForUser: %v", err)
	}
	if len(res.Series) != 0 || res.TotalPrincipal.Sign() != 0 {
		t.Errorf("closed position leaked into result: %+v", res)
	}
}
