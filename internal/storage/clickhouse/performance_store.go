package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// PerformanceStore implements storage.PerformanceStore using ClickHouse.
// Equity values are stored as decimal strings so arbitrary precision
// survives the round trip.
type PerformanceStore struct {
	conn *Conn
}

// NewPerformanceStore creates a new PerformanceStore.
func NewPerformanceStore(conn *Conn) *PerformanceStore {
	return &PerformanceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PerformanceStore = (*PerformanceStore)(nil)

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate
// (strategy_id, day_index).
func (s *PerformanceStore) InsertBulk(ctx context.Context, points []*domain.PerformanceSnapshot) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		strategyID string
		dayIndex   int
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		k := key{p.StrategyID, p.DayIndex}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.StrategyID, p.DayIndex)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO strategy_performance (strategy_id, day_index, date, equity, benchmark)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		benchmark := ""
		if p.Benchmark != nil {
			benchmark = p.Benchmark.String()
		}
		err = batch.Append(p.StrategyID, uint32(p.DayIndex), p.Date, p.Equity.String(), benchmark)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByStrategy retrieves all snapshots for a strategy, ordered by
// day_index ASC.
func (s *PerformanceStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.PerformanceSnapshot, error) {
	query := `
		SELECT strategy_id, day_index, date, equity, benchmark
		FROM strategy_performance
		WHERE strategy_id = ?
		ORDER BY day_index ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query by strategy: %w", err)
	}
	defer rows.Close()

	var result []*domain.PerformanceSnapshot
	for rows.Next() {
		var (
			p         domain.PerformanceSnapshot
			dayIndex  uint32
			equity    string
			benchmark string
		)
		if err := rows.Scan(&p.StrategyID, &dayIndex, &p.Date, &equity, &benchmark); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		p.DayIndex = int(dayIndex)
		eq, ok := new(big.Int).SetString(equity, 10)
		if !ok {
			return nil, fmt.Errorf("snapshot %s/%d: parse equity %q", p.StrategyID, p.DayIndex, equity)
		}
		p.Equity = eq
		if benchmark != "" {
			b, ok := new(big.Int).SetString(benchmark, 10)
			if !ok {
				return nil, fmt.Errorf("snapshot %s/%d: parse benchmark %q", p.StrategyID, p.DayIndex, benchmark)
			}
			p.Benchmark = b
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}

// exists checks if a snapshot with the given key exists.
func (s *PerformanceStore) exists(ctx context.Context, strategyID string, dayIndex int) (bool, error) {
	query := `
		SELECT count(*) FROM strategy_performance
		WHERE strategy_id = ? AND day_index = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, strategyID, uint32(dayIndex)).Scan(&count); err != nil {
		return false, fmt.Errorf("count snapshots: %w", err)
	}
	return count > 0, nil
}
