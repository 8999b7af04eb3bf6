package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

type perfKey struct {
	strategyID string
	dayIndex   int
}

// PerformanceStore is an in-memory implementation of storage.PerformanceStore.
type PerformanceStore struct {
	mu   sync.RWMutex
	data map[perfKey]*domain.PerformanceSnapshot
}

// NewPerformanceStore creates a new in-memory performance snapshot store.
func NewPerformanceStore() *PerformanceStore {
	return &PerformanceStore{
		data: make(map[perfKey]*domain.PerformanceSnapshot),
	}
}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any
// duplicate (strategy_id, day_index).
func (s *PerformanceStore) InsertBulk(_ context.Context, points []*domain.PerformanceSnapshot) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[perfKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.StrategyID == "" || p.Equity == nil {
			return storage.ErrInvalidInput
		}
		key := perfKey{p.StrategyID, p.DayIndex}
		if _, exists := s.data[key]; exists {
			return fmt.Errorf("snapshot %s/%d: %w", p.StrategyID, p.DayIndex, storage.ErrDuplicateKey)
		}
		if _, exists := batchKeys[key]; exists {
			return fmt.Errorf("snapshot %s/%d: %w", p.StrategyID, p.DayIndex, storage.ErrDuplicateKey)
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range points {
		s.data[perfKey{p.StrategyID, p.DayIndex}] = copySnapshot(p)
	}
	return nil
}

// GetByStrategy retrieves all snapshots for a strategy, day_index ASC.
func (s *PerformanceStore) GetByStrategy(_ context.Context, strategyID string) ([]*domain.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PerformanceSnapshot
	for key, p := range s.data {
		if key.strategyID == strategyID {
			result = append(result, copySnapshot(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DayIndex < result[j].DayIndex
	})

	return result, nil
}

// copySnapshot deep-copies a snapshot including its big.Int amounts.
func copySnapshot(p *domain.PerformanceSnapshot) *domain.PerformanceSnapshot {
	cp := *p
	cp.Equity = new(big.Int).Set(p.Equity)
	if p.Benchmark != nil {
		cp.Benchmark = new(big.Int).Set(p.Benchmark)
	}
	return &cp
}

var _ storage.PerformanceStore = (*PerformanceStore)(nil)
