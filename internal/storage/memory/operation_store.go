package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// OperationStore is an in-memory implementation of storage.OperationStore.
type OperationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Operation // keyed by op_id
}

// NewOperationStore creates a new in-memory operation store.
func NewOperationStore() *OperationStore {
	return &OperationStore{
		data: make(map[string]*domain.Operation),
	}
}

// Insert adds a new operation. Returns ErrDuplicateKey if op_id exists.
func (s *OperationStore) Insert(_ context.Context, op *domain.Operation) error {
	if op == nil || op.OpID == "" || op.Amount == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[op.OpID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[op.OpID] = copyOperation(op)
	return nil
}

// GetByUser retrieves all operations for a user, ordered by
// created_at ASC, op_id ASC.
func (s *OperationStore) GetByUser(_ context.Context, userID string) ([]*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Operation
	for _, op := range s.data {
		if op.UserID == userID {
			result = append(result, copyOperation(op))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].OpID < result[j].OpID
	})

	return result, nil
}

// copyOperation deep-copies an operation including its big.Int amounts.
func copyOperation(op *domain.Operation) *domain.Operation {
	cp := *op
	cp.Amount = new(big.Int).Set(op.Amount)
	if op.Fee != nil {
		cp.Fee = new(big.Int).Set(op.Fee)
	}
	return &cp
}

var _ storage.OperationStore = (*OperationStore)(nil)
