package clickhouse

import (
	"context"
	"fmt"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
// MergeTree doesn't enforce uniqueness, so duplicates are rejected by
// explicit checks before insert.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate
// (symbol, timeframe, ts).
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		symbol string
		tf     domain.Timeframe
		ts     int64
	}
	seen := make(map[key]struct{})
	for _, c := range candles {
		k := key{c.Symbol, c.Timeframe, c.Ts}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, c := range candles {
		exists, err := s.exists(ctx, c.Symbol, c.Timeframe, c.Ts)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Symbol, string(c.Timeframe), uint64(c.Ts),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRange retrieves candles for (symbol, timeframe) within
// [fromMs, toMs] (inclusive), ordered by ts ASC.
func (s *CandleStore) GetByRange(ctx context.Context, symbol string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error) {
	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), uint64(fromMs), uint64(toMs))
	if err != nil {
		return nil, fmt.Errorf("query by range: %w", err)
	}
	defer rows.Close()

	var result []*domain.Candle
	for rows.Next() {
		var (
			c  domain.Candle
			tf string
			ts uint64
		)
		if err := rows.Scan(&c.Symbol, &tf, &ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Timeframe = domain.Timeframe(tf)
		c.Ts = int64(ts)
		result = append(result, &c)
	}
	return result, rows.Err()
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, symbol string, tf domain.Timeframe, ts int64) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE symbol = ? AND timeframe = ? AND ts = ?
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, symbol, string(tf), uint64(ts)).Scan(&count); err != nil {
		return false, fmt.Errorf("count candles: %w", err)
	}
	return count > 0, nil
}
