package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// SimEventStore is an in-memory implementation of storage.SimEventStore.
type SimEventStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.SimEvent // session_id -> seq -> event
}

// NewSimEventStore creates a new in-memory event store.
func NewSimEventStore() *SimEventStore {
	return &SimEventStore{
		data: make(map[string]map[int64]*domain.SimEvent),
	}
}

// Insert adds a new event. Returns ErrDuplicateKey if (session_id, seq) exists.
func (s *SimEventStore) Insert(_ context.Context, e *domain.SimEvent) error {
	if e == nil || e.SessionID == "" || e.Seq <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, exists := s.data[e.SessionID]
	if !exists {
		events = make(map[int64]*domain.SimEvent)
		s.data[e.SessionID] = events
	}

	if _, exists := events[e.Seq]; exists {
		return fmt.Errorf("event %s/%d: %w", e.SessionID, e.Seq, storage.ErrDuplicateKey)
	}

	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	events[e.Seq] = &cp
	return nil
}

// GetBySession retrieves events with seq >= fromSeq, ordered by seq ASC.
func (s *SimEventStore) GetBySession(_ context.Context, sessionID string, fromSeq int64) ([]*domain.SimEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimEvent
	for seq, e := range s.data[sessionID] {
		if seq >= fromSeq {
			cp := *e
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// LastSeq returns the highest stored seq for a session, 0 when none.
func (s *SimEventStore) LastSeq(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last int64
	for seq := range s.data[sessionID] {
		if seq > last {
			last = seq
		}
	}
	return last, nil
}

var _ storage.SimEventStore = (*SimEventStore)(nil)
