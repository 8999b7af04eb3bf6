package candles

import (
	"context"
	"testing"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage/memory"
)

func seedCandles(t *testing.T, store *memory.CandleStore, timestamps ...int64) {
	t.Helper()

	candles := make([]*domain.Candle, len(timestamps))
	for i, ts := range timestamps {
		candles[i] = &domain.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: domain.Timeframe1m,
			Ts:        ts,
			Open:      100, High: 101, Low: 99, Close: 100.5,
		}
	}
	if err := store.InsertBulk(context.Background(), candles); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}
}

func TestLoad_ContiguousHasNoGaps(t *testing.T) {
	store := memory.NewCandleStore()
	seedCandles(t, store, 0, 60_000, 120_000, 180_000)

	loader, err := NewStoreLoader(store)
	if err != nil {
		t.Fatalf("NewStoreLoader: %v", err)
	}

	w, err := loader.Load(context.Background(), "BTCUSDT", domain.Timeframe1m, 0, 180_000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(w.Candles) != 4 {
		t.Errorf("candles = %d, want 4", len(w.Candles))
	}
	if len(w.Gaps) != 0 {
		t.Errorf("gaps = %v, want none", w.Gaps)
	}
}

func TestLoad_DetectsInteriorGap(t *testing.T) {
	store := memory.NewCandleStore()
	// Bars at minute 0, 1, then 4: minutes 2 and 3 are missing.
	seedCandles(t, store, 0, 60_000, 240_000)

	loader, _ := NewStoreLoader(store)
	w, err := loader.Load(context.Background(), "BTCUSDT", domain.Timeframe1m, 0, 240_000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(w.Gaps) != 1 {
		t.Fatalf("gaps = %v, want one", w.Gaps)
	}
	g := w.Gaps[0]
	if g.FromMs != 120_000 || g.ToMs != 180_000 || g.Bars != 2 {
		t.Errorf("gap = %+v, want {120000 180000 2}", g)
	}
}

func TestLoad_EdgesAreNotGaps(t *testing.T) {
	store := memory.NewCandleStore()
	seedCandles(t, store, 120_000, 180_000)

	loader, _ := NewStoreLoader(store)
	// Window extends well before and after the stored series.
	w, err := loader.Load(context.Background(), "BTCUSDT", domain.Timeframe1m, 0, 600_000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(w.Gaps) != 0 {
		t.Errorf("gaps = %v, want none at window edges", w.Gaps)
	}
}

func TestLoad_RejectsInvertedRange(t *testing.T) {
	loader, _ := NewStoreLoader(memory.NewCandleStore())

	if _, err := loader.Load(context.Background(), "BTCUSDT", domain.Timeframe1m, 100, 50); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
