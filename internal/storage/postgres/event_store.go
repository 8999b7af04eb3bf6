package postgres

import (
	"context"
	"fmt"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// SimEventStore implements storage.SimEventStore using PostgreSQL.
// The (session_id, seq) primary key enforces the gapless chain's
// uniqueness half; the runner enforces ordering.
type SimEventStore struct {
	pool *Pool
}

// NewSimEventStore creates a new SimEventStore.
func NewSimEventStore(pool *Pool) *SimEventStore {
	return &SimEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SimEventStore = (*SimEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if (session_id, seq) exists.
func (s *SimEventStore) Insert(ctx context.Context, e *domain.SimEvent) error {
	if e == nil || e.SessionID == "" || e.Seq <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sim_events (session_id, seq, ts, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, e.SessionID, e.Seq, e.Timestamp, string(e.Type), []byte(e.Payload))
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("event %s/%d: %w", e.SessionID, e.Seq, storage.ErrDuplicateKey)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetBySession retrieves events with seq >= fromSeq, ordered by seq ASC.
func (s *SimEventStore) GetBySession(ctx context.Context, sessionID string, fromSeq int64) ([]*domain.SimEvent, error) {
	query := `
		SELECT session_id, seq, ts, event_type, payload
		FROM sim_events
		WHERE session_id = $1 AND seq >= $2
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, sessionID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("get events by session: %w", err)
	}
	defer rows.Close()

	var result []*domain.SimEvent
	for rows.Next() {
		var (
			e         domain.SimEvent
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&e.SessionID, &e.Seq, &e.Timestamp, &eventType, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(eventType)
		e.Payload = payload
		result = append(result, &e)
	}
	return result, rows.Err()
}

// LastSeq returns the highest stored seq for a session, 0 when none.
func (s *SimEventStore) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	query := `SELECT COALESCE(MAX(seq), 0) FROM sim_events WHERE session_id = $1`

	var last int64
	if err := s.pool.QueryRow(ctx, query, sessionID).Scan(&last); err != nil {
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return last, nil
}
