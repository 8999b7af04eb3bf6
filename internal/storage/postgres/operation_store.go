package postgres

import (
	"context"
	"fmt"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// OperationStore implements storage.OperationStore using PostgreSQL.
// Amounts live in NUMERIC columns and cross the wire as decimal strings,
// so minor units never pass through floating point.
type OperationStore struct {
	pool *Pool
}

// NewOperationStore creates a new OperationStore.
func NewOperationStore(pool *Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OperationStore = (*OperationStore)(nil)

// Insert adds a new operation. Returns ErrDuplicateKey if op_id exists.
func (s *OperationStore) Insert(ctx context.Context, op *domain.Operation) error {
	if op == nil || op.OpID == "" || op.Amount == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO operations (
			op_id, user_id, op_type, status, asset, amount, fee,
			vault_from, vault_to, strategy_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		op.OpID, op.UserID, string(op.Type), string(op.Status), op.Asset,
		minorArg(op.Amount), minorArg(op.Fee),
		op.VaultFrom, op.VaultTo, op.StrategyID, op.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// GetByUser retrieves all operations for a user, ordered by
// created_at ASC, op_id ASC.
func (s *OperationStore) GetByUser(ctx context.Context, userID string) ([]*domain.Operation, error) {
	query := `
		SELECT op_id, user_id, op_type, status, asset, amount::text, fee::text,
		       vault_from, vault_to, strategy_id, created_at
		FROM operations
		WHERE user_id = $1
		ORDER BY created_at ASC, op_id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get operations by user: %w", err)
	}
	defer rows.Close()

	var result []*domain.Operation
	for rows.Next() {
		var (
			op      domain.Operation
			opType  string
			status  string
			amount  string
			fee     *string
		)
		err := rows.Scan(
			&op.OpID, &op.UserID, &opType, &status, &op.Asset, &amount, &fee,
			&op.VaultFrom, &op.VaultTo, &op.StrategyID, &op.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}

		op.Type = domain.OpType(opType)
		op.Status = domain.OpStatus(status)
		if op.Amount, err = parseMinor(amount); err != nil {
			return nil, fmt.Errorf("operation %s: %w", op.OpID, err)
		}
		if fee != nil {
			if op.Fee, err = parseMinor(*fee); err != nil {
				return nil, fmt.Errorf("operation %s fee: %w", op.OpID, err)
			}
		}
		result = append(result, &op)
	}
	return result, rows.Err()
}
