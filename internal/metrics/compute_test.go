package metrics

import (
	"math"
	"math/big"
	"testing"

	"invest-sim-lab/internal/domain"
)

func trade(pnl int64, holdBars int) *domain.Trade {
	return &domain.Trade{NetPnL: big.NewInt(pnl), HoldBars: holdBars}
}

func TestCompute_Example(t *testing.T) {
	// Two trades: +150 and -50, hold 4 and 2 bars.
	trades := []*domain.Trade{trade(150, 4), trade(-50, 2)}

	s := Compute(trades, big.NewInt(10_000))

	if s.TotalTrades != 2 {
		t.Fatalf("TotalTrades = %d, want 2", s.TotalTrades)
	}
	if s.WinRatePct != 50 {
		t.Errorf("WinRatePct = %v, want 50", s.WinRatePct)
	}
	if s.ProfitFactor != 3.0 {
		t.Errorf("ProfitFactor = %v, want 3.0", s.ProfitFactor)
	}
	if s.AvgHoldBars != 3 {
		t.Errorf("AvgHoldBars = %v, want 3", s.AvgHoldBars)
	}
	if s.NetPnL.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("NetPnL = %v, want 100", s.NetPnL)
	}
	// (+100 / 10000 * 100) / 2 trades = 0.5% average per trade.
	if math.Abs(s.AvgPnLPct-0.5) > 1e-12 {
		t.Errorf("AvgPnLPct = %v, want 0.5", s.AvgPnLPct)
	}
}

func TestProfitFactor_NoLossesPositiveGains(t *testing.T) {
	pf := ProfitFactor(big.NewInt(500), big.NewInt(0))
	if !math.IsInf(pf, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf", pf)
	}
}

func TestProfitFactor_NoTrades(t *testing.T) {
	// Both gains and losses zero yields 0, not NaN.
	pf := ProfitFactor(big.NewInt(0), big.NewInt(0))
	if pf != 0 {
		t.Errorf("ProfitFactor = %v, want 0", pf)
	}

	s := Compute(nil, big.NewInt(10_000))
	if s.ProfitFactor != 0 || s.TotalTrades != 0 {
		t.Errorf("empty compute = %+v, want zero summary", s)
	}
}

func TestStats_FlatTradeCountsAsLoss(t *testing.T) {
	s := NewStats()
	s.Add(trade(0, 1))

	if s.Wins != 0 || s.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 0/1", s.Wins, s.Losses)
	}
	if s.GrossLoss.Sign() != 0 {
		t.Errorf("GrossLoss = %v, want 0", s.GrossLoss)
	}
}

func TestCompute_ArbitraryPrecision(t *testing.T) {
	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	if !ok {
		t.Fatal("SetString failed")
	}

	trades := []*domain.Trade{{NetPnL: huge, HoldBars: 1}}
	s := Compute(trades, nil)

	if s.NetPnL.Cmp(huge) != 0 {
		t.Errorf("NetPnL = %v, want %v", s.NetPnL, huge)
	}
	if !math.IsInf(s.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf", s.ProfitFactor)
	}
}
