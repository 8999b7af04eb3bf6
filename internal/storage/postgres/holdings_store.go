package postgres

import (
	"context"
	"fmt"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// HoldingsStore implements the read-side holdings contracts
// (storage.BalanceStore, storage.VaultStore, storage.PositionStore)
// using PostgreSQL. Reconciliation reads stored state through this; it
// never writes.
type HoldingsStore struct {
	pool *Pool
}

// NewHoldingsStore creates a new HoldingsStore.
func NewHoldingsStore(pool *Pool) *HoldingsStore {
	return &HoldingsStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.BalanceStore  = (*HoldingsStore)(nil)
	_ storage.VaultStore    = (*HoldingsStore)(nil)
	_ storage.PositionStore = positionView{}
)

// GetWallet retrieves a user's wallet balance for an asset.
func (s *HoldingsStore) GetWallet(ctx context.Context, userID, asset string) (*domain.WalletBalance, error) {
	query := `
		SELECT user_id, asset, amount::text
		FROM wallet_balances
		WHERE user_id = $1 AND asset = $2
	`

	var (
		b      domain.WalletBalance
		amount string
	)
	err := s.pool.QueryRow(ctx, query, userID, asset).Scan(&b.UserID, &b.Asset, &amount)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	if b.Amount, err = parseMinor(amount); err != nil {
		return nil, fmt.Errorf("wallet %s/%s: %w", userID, asset, err)
	}
	return &b, nil
}

// GetByUser retrieves all vault balances for a user in an asset, ordered
// by bucket name.
func (s *HoldingsStore) GetByUser(ctx context.Context, userID, asset string) ([]*domain.VaultBalance, error) {
	query := `
		SELECT user_id, bucket, asset, amount::text
		FROM vault_balances
		WHERE user_id = $1 AND asset = $2
		ORDER BY bucket ASC
	`

	rows, err := s.pool.Query(ctx, query, userID, asset)
	if err != nil {
		return nil, fmt.Errorf("get vaults by user: %w", err)
	}
	defer rows.Close()

	var result []*domain.VaultBalance
	for rows.Next() {
		var (
			v      domain.VaultBalance
			amount string
		)
		if err := rows.Scan(&v.UserID, &v.Bucket, &v.Asset, &amount); err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		if v.Amount, err = parseMinor(amount); err != nil {
			return nil, fmt.Errorf("vault %s/%s: %w", userID, v.Bucket, err)
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}

const positionsQuery = `
	SELECT position_id, user_id, strategy_id,
	       principal::text, current_value::text, accrued_profit::text,
	       paused, drawdown_limit_pct, auto_pause, status, created_at
	FROM positions
	WHERE user_id = $1
	ORDER BY created_at ASC, position_id ASC
`

// Positions returns the position read view of this store. The view
// exists because GetByUser means different things for vaults and
// positions.
func (s *HoldingsStore) Positions() storage.PositionStore {
	return positionView{s}
}

type positionView struct {
	s *HoldingsStore
}

// GetByUser retrieves all positions for a user, ordered by created_at ASC.
func (v positionView) GetByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	rows, err := v.s.pool.Query(ctx, positionsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("get positions by user: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		var (
			p         domain.Position
			principal string
			current   string
			accrued   *string
			status    string
		)
		err := rows.Scan(
			&p.PositionID, &p.UserID, &p.StrategyID,
			&principal, &current, &accrued,
			&p.Paused, &p.DrawdownLimitPct, &p.AutoPause, &status, &p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}

		p.Status = domain.PositionStatus(status)
		if p.Principal, err = parseMinor(principal); err != nil {
			return nil, fmt.Errorf("position %s principal: %w", p.PositionID, err)
		}
		if p.CurrentValue, err = parseMinor(current); err != nil {
			return nil, fmt.Errorf("position %s current value: %w", p.PositionID, err)
		}
		if accrued != nil {
			if p.AccruedProfit, err = parseMinor(*accrued); err != nil {
				return nil, fmt.Errorf("position %s accrued profit: %w", p.PositionID, err)
			}
		}
		result = append(result, &p)
	}
	return result, rows.Err()
}
