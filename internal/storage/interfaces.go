package storage

import (
	"context"

	"invest-sim-lab/internal/domain"
)

// SimSessionStore provides access to sim_sessions storage.
type SimSessionStore interface {
	// Insert adds a new session. Returns ErrDuplicateKey if session_id or
	// a non-empty idempotency key already exists.
	Insert(ctx context.Context, s *domain.SimSession) error

	// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, sessionID string) (*domain.SimSession, error)

	// GetByIdempotencyKey retrieves a session by its idempotency key.
	// Returns ErrNotFound if not exists.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.SimSession, error)

	// UpdateSnapshot persists the serialized strategy state together with
	// the barIndex/lastSeq watermarks.
	UpdateSnapshot(ctx context.Context, sessionID string, stateBlob []byte, barIndex int, lastSeq int64) error

	// UpdateStatus records a lifecycle transition. errMsg is stored for FAILED.
	UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, errMsg string) error

	// UpdateLastSeq advances the monotonic event watermark.
	UpdateLastSeq(ctx context.Context, sessionID string, lastSeq int64) error

	// ListByStatus retrieves all sessions in the given status.
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.SimSession, error)
}

// SimEventStore provides access to sim_events storage.
// Events are append-only; (session_id, seq) uniqueness is enforced here.
type SimEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if (session_id, seq) exists.
	Insert(ctx context.Context, e *domain.SimEvent) error

	// GetBySession retrieves events with seq >= fromSeq, ordered by seq ASC.
	GetBySession(ctx context.Context, sessionID string, fromSeq int64) ([]*domain.SimEvent, error)

	// LastSeq returns the highest stored seq for a session, 0 when none.
	LastSeq(ctx context.Context, sessionID string) (int64, error)
}

// CandleStore provides access to candle storage.
type CandleStore interface {
	// InsertBulk adds multiple candles. Fails entire batch on duplicate
	// (symbol, timeframe, ts).
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByRange retrieves candles for (symbol, timeframe) within
	// [fromMs, toMs] (inclusive), ordered by ts ASC.
	GetByRange(ctx context.Context, symbol string, tf domain.Timeframe, fromMs, toMs int64) ([]*domain.Candle, error)
}

// OperationStore provides access to the append-only operation ledger.
type OperationStore interface {
	// Insert adds a new operation. Returns ErrDuplicateKey if op_id exists.
	Insert(ctx context.Context, op *domain.Operation) error

	// GetByUser retrieves all operations for a user, ordered by
	// created_at ASC, op_id ASC.
	GetByUser(ctx context.Context, userID string) ([]*domain.Operation, error)
}

// BalanceStore provides access to live wallet balances.
type BalanceStore interface {
	// GetWallet retrieves a user's wallet balance for an asset.
	// Returns ErrNotFound if not exists.
	GetWallet(ctx context.Context, userID, asset string) (*domain.WalletBalance, error)
}

// VaultStore provides access to vault bucket balances.
type VaultStore interface {
	// GetByUser retrieves all vault balances for a user in an asset.
	GetByUser(ctx context.Context, userID, asset string) ([]*domain.VaultBalance, error)
}

// PositionStore provides access to user positions.
type PositionStore interface {
	// GetByUser retrieves all positions for a user, ordered by created_at ASC.
	GetByUser(ctx context.Context, userID string) ([]*domain.Position, error)
}

// PerformanceStore provides access to strategy performance snapshots.
type PerformanceStore interface {
	// InsertBulk adds multiple snapshots. Fails entire batch on duplicate
	// (strategy_id, day_index).
	InsertBulk(ctx context.Context, points []*domain.PerformanceSnapshot) error

	// GetByStrategy retrieves all snapshots for a strategy, ordered by
	// day_index ASC.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.PerformanceSnapshot, error)
}
