package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// SimSessionStore is an in-memory implementation of storage.SimSessionStore.
type SimSessionStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.SimSession // keyed by session_id
	byKey map[string]string             // idempotency key -> session_id
}

// NewSimSessionStore creates a new in-memory session store.
func NewSimSessionStore() *SimSessionStore {
	return &SimSessionStore{
		data:  make(map[string]*domain.SimSession),
		byKey: make(map[string]string),
	}
}

// Insert adds a new session. Returns ErrDuplicateKey if session_id or a
// non-empty idempotency key already exists.
func (s *SimSessionStore) Insert(_ context.Context, sess *domain.SimSession) error {
	if sess == nil || sess.SessionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sess.SessionID]; exists {
		return storage.ErrDuplicateKey
	}
	if sess.IdempotencyKey != "" {
		if _, exists := s.byKey[sess.IdempotencyKey]; exists {
			return storage.ErrDuplicateKey
		}
	}

	cp := *sess
	s.data[sess.SessionID] = &cp
	if sess.IdempotencyKey != "" {
		s.byKey[sess.IdempotencyKey] = sess.SessionID
	}
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SimSessionStore) GetByID(_ context.Context, sessionID string) (*domain.SimSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *sess
	return &cp, nil
}

// GetByIdempotencyKey retrieves a session by its idempotency key.
func (s *SimSessionStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.SimSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byKey[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *s.data[id]
	return &cp, nil
}

// UpdateSnapshot persists the strategy state blob and watermarks.
func (s *SimSessionStore) UpdateSnapshot(_ context.Context, sessionID string, stateBlob []byte, barIndex int, lastSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}

	sess.StateBlob = append([]byte(nil), stateBlob...)
	sess.BarIndex = barIndex
	sess.LastSeq = lastSeq
	sess.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// UpdateStatus records a lifecycle transition.
func (s *SimSessionStore) UpdateStatus(_ context.Context, sessionID string, status domain.SessionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}

	sess.Status = status
	sess.ErrorMsg = errMsg
	sess.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// UpdateLastSeq advances the monotonic event watermark.
func (s *SimSessionStore) UpdateLastSeq(_ context.Context, sessionID string, lastSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.data[sessionID]
	if !exists {
		return storage.ErrNotFound
	}

	sess.LastSeq = lastSeq
	sess.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// ListByStatus retrieves all sessions in the given status, ordered by
// created_at ASC, session_id ASC.
func (s *SimSessionStore) ListByStatus(_ context.Context, status domain.SessionStatus) ([]*domain.SimSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimSession
	for _, sess := range s.data {
		if sess.Status == status {
			cp := *sess
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].SessionID < result[j].SessionID
	})

	return result, nil
}

var _ storage.SimSessionStore = (*SimSessionStore)(nil)
