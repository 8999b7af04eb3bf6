package pricegen

import (
	"testing"

	"invest-sim-lab/internal/domain"
)

func testCandle() *domain.Candle {
	return &domain.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: domain.Timeframe1m,
		Ts:        1_700_000_000_000,
		Open:      100.0,
		High:      110.0,
		Low:       95.0,
		Close:     105.0,
	}
}

func TestPrice_Deterministic(t *testing.T) {
	c := testCandle()

	for _, offset := range []int64{0, 1, 17, 30_000, 59_999, 120_000} {
		now := c.Ts + offset
		a := Price(c, now, c.Symbol, 42)
		b := Price(c, now, c.Symbol, 42)
		if a != b {
			t.Errorf("offset %d: repeated call diverged: %v != %v", offset, a, b)
		}
	}
}

func TestPrice_WithinRange(t *testing.T) {
	c := testCandle()

	for offset := int64(-10_000); offset <= 130_000; offset += 997 {
		p := Price(c, c.Ts+offset, c.Symbol, 7)
		if p < c.Low || p > c.High {
			t.Fatalf("offset %d: price %v outside [%v, %v]", offset, p, c.Low, c.High)
		}
	}
}

func TestPrice_SeedChangesOutput(t *testing.T) {
	c := testCandle()
	now := c.Ts + 30_000

	a := Price(c, now, c.Symbol, 1)
	b := Price(c, now, c.Symbol, 2)
	if a == b {
		t.Errorf("different seeds produced identical price %v", a)
	}
}

func TestPrice_ClampsElapsedFraction(t *testing.T) {
	c := testCandle()

	// Before the bar opens the base is the open; after it ends, the close.
	before := Price(c, c.Ts-5_000, c.Symbol, 0)
	after := Price(c, c.Ts+10*60_000, c.Symbol, 0)

	if before < c.Low || before > c.High {
		t.Errorf("pre-bar price %v outside range", before)
	}
	if after < c.Low || after > c.High {
		t.Errorf("post-bar price %v outside range", after)
	}
}
