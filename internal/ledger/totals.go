// Package ledger re-derives expected balances from the append-only
// operation log and flags divergence from stored holdings. All balance
// arithmetic uses arbitrary-precision integers in minor units; floating
// point never touches money here.
package ledger

import (
	"math/big"

	"invest-sim-lab/internal/domain"
)

// Totals are balances re-derived from the operation log, in minor units.
type Totals struct {
	Wallet    *big.Int            `json:"wallet"`
	Vaults    map[string]*big.Int `json:"vaults"`
	Allocated *big.Int            `json:"allocated"`
	PnL       *big.Int            `json:"pnl"`
}

// NewTotals returns zeroed totals.
func NewTotals() *Totals {
	return &Totals{
		Wallet:    new(big.Int),
		Vaults:    make(map[string]*big.Int),
		Allocated: new(big.Int),
		PnL:       new(big.Int),
	}
}

// Equity is wallet + allocated + pnl.
func (t *Totals) Equity() *big.Int {
	eq := new(big.Int).Set(t.Wallet)
	eq.Add(eq, t.Allocated)
	eq.Add(eq, t.PnL)
	return eq
}

func (t *Totals) vault(bucket string) *big.Int {
	v, ok := t.Vaults[bucket]
	if !ok {
		v = new(big.Int)
		t.Vaults[bucket] = v
	}
	return v
}

// includedStatus reports whether an operation counts toward totals.
func includedStatus(s domain.OpStatus) bool {
	switch s {
	case domain.OpPending, domain.OpProcessing, domain.OpCompleted:
		return true
	default:
		return false
	}
}

// ComputeLedgerTotals replays the operation log in order, applying the
// per-type effect table. Operations not denominated in the settlement
// asset or not in an included status are skipped.
//
// Effects: deposit → +wallet; withdraw → −wallet −fee; invest → −wallet
// +allocated; vault-transfer → −source +destination bucket (the wallet is
// addressable as the "wallet" bucket); profit-accrual → +pnl.
func ComputeLedgerTotals(ops []*domain.Operation, settlementAsset string) *Totals {
	totals := NewTotals()

	for _, op := range ops {
		if op.Asset != settlementAsset || !includedStatus(op.Status) {
			continue
		}

		switch op.Type {
		case domain.OpDeposit:
			totals.Wallet.Add(totals.Wallet, op.Amount)

		case domain.OpWithdraw:
			totals.Wallet.Sub(totals.Wallet, op.Amount)
			if op.Fee != nil {
				totals.Wallet.Sub(totals.Wallet, op.Fee)
			}

		case domain.OpInvest:
			totals.Wallet.Sub(totals.Wallet, op.Amount)
			totals.Allocated.Add(totals.Allocated, op.Amount)

		case domain.OpVaultTransfer:
			if op.VaultFrom == "" || op.VaultFrom == domain.WalletBucket {
				totals.Wallet.Sub(totals.Wallet, op.Amount)
			} else {
				from := totals.vault(op.VaultFrom)
				from.Sub(from, op.Amount)
			}
			if op.VaultTo == "" || op.VaultTo == domain.WalletBucket {
				totals.Wallet.Add(totals.Wallet, op.Amount)
			} else {
				to := totals.vault(op.VaultTo)
				to.Add(to, op.Amount)
			}

		case domain.OpProfitAccrual:
			totals.PnL.Add(totals.PnL, op.Amount)
		}
	}

	return totals
}
