package ledger

import (
	"math/big"

	"invest-sim-lab/internal/domain"
)

// Holdings are balances summed from live stored state, in minor units.
type Holdings struct {
	Available *big.Int            `json:"available"`
	Vaults    map[string]*big.Int `json:"vaults"`
	Allocated *big.Int            `json:"allocated"`
	PnL       *big.Int            `json:"pnl"`
	Equity    *big.Int            `json:"equity"`
}

// ComputeHoldingsTotals sums the stored wallet balance, vault balances by
// bucket, and position principal/current-value deltas (pnl = current −
// principal). Equity = available + allocated + pnl.
func ComputeHoldingsTotals(wallet *domain.WalletBalance, vaults []*domain.VaultBalance, positions []*domain.Position) *Holdings {
	h := &Holdings{
		Available: new(big.Int),
		Vaults:    make(map[string]*big.Int),
		Allocated: new(big.Int),
		PnL:       new(big.Int),
	}

	if wallet != nil {
		h.Available.Set(wallet.Amount)
	}

	for _, v := range vaults {
		bucket, ok := h.Vaults[v.Bucket]
		if !ok {
			bucket = new(big.Int)
			h.Vaults[v.Bucket] = bucket
		}
		bucket.Add(bucket, v.Amount)
	}

	for _, p := range positions {
		if p.Status == domain.PositionClosed {
			continue
		}
		h.Allocated.Add(h.Allocated, p.Principal)
		delta := new(big.Int).Sub(p.CurrentValue, p.Principal)
		h.PnL.Add(h.PnL, delta)
	}

	h.Equity = new(big.Int).Set(h.Available)
	h.Equity.Add(h.Equity, h.Allocated)
	h.Equity.Add(h.Equity, h.PnL)

	return h
}

// ValidateHoldingsInvariants flags structural violations in stored
// holdings, independent of any ledger comparison.
func ValidateHoldingsInvariants(h *Holdings) []Issue {
	var issues []Issue

	if h.Available.Sign() < 0 {
		issues = append(issues, Issue{
			Type:     IssueWalletNegative,
			Expected: new(big.Int),
			Actual:   new(big.Int).Set(h.Available),
			Delta:    new(big.Int).Set(h.Available),
		})
	}

	if h.Allocated.Sign() < 0 {
		issues = append(issues, Issue{
			Type:     IssueAllocatedNegative,
			Expected: new(big.Int),
			Actual:   new(big.Int).Set(h.Allocated),
			Delta:    new(big.Int).Set(h.Allocated),
		})
	}

	for _, bucket := range sortedBuckets(h.Vaults) {
		if h.Vaults[bucket].Sign() < 0 {
			issues = append(issues, Issue{
				Type:     IssueVaultNegative,
				Bucket:   bucket,
				Expected: new(big.Int),
				Actual:   new(big.Int).Set(h.Vaults[bucket]),
				Delta:    new(big.Int).Set(h.Vaults[bucket]),
			})
		}
	}

	return issues
}
