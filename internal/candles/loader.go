// Package candles loads OHLCV windows for simulation and reports where
// the stored series has holes.
package candles

import (
	"context"
	"fmt"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// Gap is a missing stretch of bars inside a loaded window. FromMs and
// ToMs are the open times of the first and last missing bar.
type Gap struct {
	FromMs int64 `json:"from_ms"`
	ToMs   int64 `json:"to_ms"`
	Bars   int   `json:"bars"`
}

// Window is a loaded candle range plus its detected gaps. Gaps are
// informational; the runner decides whether to proceed.
type Window struct {
	Candles []*domain.Candle `json:"candles"`
	Gaps    []Gap            `json:"gaps"`
}

// Loader supplies candle windows for a symbol and timeframe.
type Loader interface {
	Load(ctx context.Context, symbol string, tf domain.Timeframe, fromMs, toMs int64) (*Window, error)
}

// StoreLoader loads windows from a storage.CandleStore.
type StoreLoader struct {
	store storage.CandleStore
}

// NewStoreLoader wraps a candle store as a Loader.
func NewStoreLoader(store storage.CandleStore) (*StoreLoader, error) {
	if store == nil {
		return nil, fmt.Errorf("candles: store is required: %w", storage.ErrInvalidInput)
	}
	return &StoreLoader{store: store}, nil
}

// Load fetches [fromMs, toMs] inclusive and detects interior gaps by
// comparing consecutive bar open times against the timeframe step.
func (l *StoreLoader) Load(ctx context.Context, symbol string, tf domain.Timeframe, fromMs, toMs int64) (*Window, error) {
	if tf.DurationMs() == 0 {
		return nil, fmt.Errorf("candles: unknown timeframe %q: %w", tf, storage.ErrInvalidInput)
	}
	if fromMs > toMs {
		return nil, fmt.Errorf("candles: from %d after to %d: %w", fromMs, toMs, storage.ErrInvalidInput)
	}

	loaded, err := l.store.GetByRange(ctx, symbol, tf, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("load candles %s %s: %w", symbol, tf, err)
	}

	return &Window{
		Candles: loaded,
		Gaps:    detectGaps(loaded, tf.DurationMs()),
	}, nil
}

// detectGaps finds interior holes in an ascending series. Leading and
// trailing absence is not a gap; the requested window may simply start
// before the series does.
func detectGaps(series []*domain.Candle, stepMs int64) []Gap {
	var gaps []Gap
	for i := 1; i < len(series); i++ {
		delta := series[i].Ts - series[i-1].Ts
		if delta <= stepMs {
			continue
		}
		missing := int(delta/stepMs) - 1
		gaps = append(gaps, Gap{
			FromMs: series[i-1].Ts + stepMs,
			ToMs:   series[i].Ts - stepMs,
			Bars:   missing,
		})
	}
	return gaps
}

var _ Loader = (*StoreLoader)(nil)
