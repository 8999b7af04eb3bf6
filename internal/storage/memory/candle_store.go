package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

type candleKey struct {
	symbol string
	tf     domain.Timeframe
	ts     int64
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]*domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]*domain.Candle),
	}
}

// InsertBulk adds multiple candles atomically. Fails entire batch on any
// duplicate (symbol, timeframe, ts).
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[candleKey]struct{}, len(candles))
	for _, c := range candles {
		if c == nil || c.Symbol == "" || c.Timeframe == "" {
			return storage.ErrInvalidInput
		}
		key := candleKey{c.Symbol, c.Timeframe, c.Ts}
		if _, exists := s.data[key]; exists {
			return fmt.Errorf("candle %s/%s/%d: %w", c.Symbol, c.Timeframe, c.Ts, storage.ErrDuplicateKey)
		}
		if _, exists := batchKeys[key]; exists {
			return fmt.Errorf("candle %s/%s/%d: %w", c.Symbol, c.Timeframe, c.Ts, storage.ErrDuplicateKey)
		}
		batchKeys[key] = struct{}{}
	}

	for _, c := range candles {
		cp := *c
		s.data[candleKey{c.Symbol, c.Timeframe, c.Ts}] = &cp
	}
	return nil
}

// GetByRange retrieves candles within [fromMs, toMs] inclusive, ts ASC.
func (s *CandleStore) GetByRange(_ context.Context, symbol string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for key, c := range s.data {
		if key.symbol == symbol && key.tf == tf && key.ts >= fromMs && key.ts <= toMs {
			cp := *c
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Ts < result[j].Ts
	})

	return result, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)
