package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// SimSessionStore implements storage.SimSessionStore using PostgreSQL.
type SimSessionStore struct {
	pool *Pool
}

// NewSimSessionStore creates a new SimSessionStore.
func NewSimSessionStore(pool *Pool) *SimSessionStore {
	return &SimSessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SimSessionStore = (*SimSessionStore)(nil)

const sessionColumns = `
	session_id, user_id, strategy_slug, symbol, timeframe, status,
	start_ms, end_ms, speed, bar_index, last_seq, state_blob, config,
	idempotency_key, error_msg, created_at, updated_at
`

// Insert adds a new session. Returns ErrDuplicateKey if session_id or a
// non-empty idempotency key already exists.
func (s *SimSessionStore) Insert(ctx context.Context, sess *domain.SimSession) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}

	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("marshal session config: %w", err)
	}

	query := `
		INSERT INTO sim_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16, $17)
	`

	_, err = s.pool.Exec(ctx, query,
		sess.SessionID, sess.UserID, sess.StrategySlug, sess.Symbol, string(sess.Timeframe), string(sess.Status),
		sess.StartMs, sess.EndMs, sess.Speed, sess.BarIndex, sess.LastSeq, sess.StateBlob, cfg,
		sess.IdempotencyKey, sess.ErrorMsg, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SimSessionStore) GetByID(ctx context.Context, sessionID string) (*domain.SimSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sim_sessions WHERE session_id = $1`

	sess, err := scanSession(s.pool.QueryRow(ctx, query, sessionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return sess, nil
}

// GetByIdempotencyKey retrieves a session by its idempotency key.
func (s *SimSessionStore) GetByIdempotencyKey(ctx context.Context, key string) (*domain.SimSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sim_sessions WHERE idempotency_key = $1`

	sess, err := scanSession(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by idempotency key: %w", err)
	}
	return sess, nil
}

// UpdateSnapshot persists the strategy state blob and watermarks.
func (s *SimSessionStore) UpdateSnapshot(ctx context.Context, sessionID string, stateBlob []byte, barIndex int, lastSeq int64) error {
	query := `
		UPDATE sim_sessions
		SET state_blob = $2, bar_index = $3, last_seq = $4, updated_at = $5
		WHERE session_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, sessionID, stateBlob, barIndex, lastSeq, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateStatus records a lifecycle transition.
func (s *SimSessionStore) UpdateStatus(ctx context.Context, sessionID string, status domain.SessionStatus, errMsg string) error {
	query := `
		UPDATE sim_sessions
		SET status = $2, error_msg = $3, updated_at = $4
		WHERE session_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, sessionID, string(status), errMsg, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateLastSeq advances the monotonic event watermark.
func (s *SimSessionStore) UpdateLastSeq(ctx context.Context, sessionID string, lastSeq int64) error {
	query := `
		UPDATE sim_sessions
		SET last_seq = $2, updated_at = $3
		WHERE session_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, sessionID, lastSeq, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("update last_seq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus retrieves all sessions in the given status, ordered by
// created_at ASC, session_id ASC.
func (s *SimSessionStore) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]*domain.SimSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sim_sessions
		WHERE status = $1
		ORDER BY created_at ASC, session_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions by status: %w", err)
	}
	defer rows.Close()

	var result []*domain.SimSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

// rowScanner abstracts pgx.Row and pgx.Rows for scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.SimSession, error) {
	var (
		sess      domain.SimSession
		timeframe string
		status    string
		cfg       []byte
		idemKey   *string
	)

	err := row.Scan(
		&sess.SessionID, &sess.UserID, &sess.StrategySlug, &sess.Symbol, &timeframe, &status,
		&sess.StartMs, &sess.EndMs, &sess.Speed, &sess.BarIndex, &sess.LastSeq, &sess.StateBlob, &cfg,
		&idemKey, &sess.ErrorMsg, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Timeframe = domain.Timeframe(timeframe)
	sess.Status = domain.SessionStatus(status)
	if idemKey != nil {
		sess.IdempotencyKey = *idemKey
	}
	if err := json.Unmarshal(cfg, &sess.Config); err != nil {
		return nil, fmt.Errorf("unmarshal session config: %w", err)
	}
	return &sess, nil
}
