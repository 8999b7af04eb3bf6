package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage"
)

// HoldingsStore is an in-memory implementation of the read-side holdings
// contracts: storage.BalanceStore, storage.VaultStore and storage.PositionStore.
// The relational schema behind these reads is owned elsewhere; tests and
// --use-memory mode seed it directly.
type HoldingsStore struct {
	mu        sync.RWMutex
	wallets   map[string]*domain.WalletBalance // userID|asset
	vaults    map[string]*domain.VaultBalance  // userID|asset|bucket
	positions map[string]*domain.Position      // position_id
}

// NewHoldingsStore creates a new in-memory holdings store.
func NewHoldingsStore() *HoldingsStore {
	return &HoldingsStore{
		wallets:   make(map[string]*domain.WalletBalance),
		vaults:    make(map[string]*domain.VaultBalance),
		positions: make(map[string]*domain.Position),
	}
}

// SetWallet upserts a wallet balance.
func (s *HoldingsStore) SetWallet(b *domain.WalletBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	cp.Amount = new(big.Int).Set(b.Amount)
	s.wallets[b.UserID+"|"+b.Asset] = &cp
}

// SetVault upserts a vault bucket balance.
func (s *HoldingsStore) SetVault(v *domain.VaultBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *v
	cp.Amount = new(big.Int).Set(v.Amount)
	s.vaults[v.UserID+"|"+v.Asset+"|"+v.Bucket] = &cp
}

// SetPosition upserts a position.
func (s *HoldingsStore) SetPosition(p *domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[p.PositionID] = copyPosition(p)
}

// GetWallet retrieves a user's wallet balance for an asset.
func (s *HoldingsStore) GetWallet(_ context.Context, userID, asset string) (*domain.WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.wallets[userID+"|"+asset]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *b
	cp.Amount = new(big.Int).Set(b.Amount)
	return &cp, nil
}

// GetByUser retrieves all vault balances for a user in an asset, ordered
// by bucket name.
func (s *HoldingsStore) GetByUser(_ context.Context, userID, asset string) ([]*domain.VaultBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VaultBalance
	for _, v := range s.vaults {
		if v.UserID == userID && v.Asset == asset {
			cp := *v
			cp.Amount = new(big.Int).Set(v.Amount)
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Bucket < result[j].Bucket
	})

	return result, nil
}

// Positions returns the position read view of this store.
func (s *HoldingsStore) Positions() storage.PositionStore {
	return positionView{s}
}

// positionView adapts HoldingsStore to storage.PositionStore.
type positionView struct {
	s *HoldingsStore
}

// GetByUser retrieves all positions for a user, ordered by created_at ASC.
func (v positionView) GetByUser(_ context.Context, userID string) ([]*domain.Position, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range v.s.positions {
		if p.UserID == userID {
			result = append(result, copyPosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].PositionID < result[j].PositionID
	})

	return result, nil
}

// copyPosition deep-copies a position including its big.Int amounts.
func copyPosition(p *domain.Position) *domain.Position {
	cp := *p
	cp.Principal = new(big.Int).Set(p.Principal)
	cp.CurrentValue = new(big.Int).Set(p.CurrentValue)
	if p.AccruedProfit != nil {
		cp.AccruedProfit = new(big.Int).Set(p.AccruedProfit)
	}
	return &cp
}

var (
	_ storage.BalanceStore  = (*HoldingsStore)(nil)
	_ storage.VaultStore    = (*HoldingsStore)(nil)
	_ storage.PositionStore = positionView{}
)
