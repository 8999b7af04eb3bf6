package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"invest-sim-lab/internal/storage"
)

// IssueType classifies a reconciliation finding.
type IssueType string

const (
	IssueWalletMismatch    IssueType = "WALLET_MISMATCH"
	IssueVaultMismatch     IssueType = "VAULT_MISMATCH"
	IssueAllocatedMismatch IssueType = "ALLOCATED_MISMATCH"
	IssuePnLMismatch       IssueType = "PNL_MISMATCH"
	IssueEquityMismatch    IssueType = "EQUITY_MISMATCH"
	IssueWalletNegative    IssueType = "WALLET_NEGATIVE"
	IssueVaultNegative     IssueType = "VAULT_NEGATIVE"
	IssueAllocatedNegative IssueType = "ALLOCATED_NEGATIVE"
)

// Issue is one reconciliation finding. Expected is the ledger-derived
// value, Actual the stored value, Delta = Actual - Expected.
type Issue struct {
	Type     IssueType `json:"type"`
	Bucket   string    `json:"bucket,omitempty"`
	Expected *big.Int  `json:"expected"`
	Actual   *big.Int  `json:"actual"`
	Delta    *big.Int  `json:"delta"`
}

// Report is the outcome of reconciling one user's holdings against the
// operation log. Reports are advisory; producing one never mutates state.
type Report struct {
	UserID   string    `json:"user_id"`
	Asset    string    `json:"asset"`
	OK       bool      `json:"ok"`
	Issues   []Issue   `json:"issues"`
	Ledger   *Totals   `json:"ledger"`
	Holdings *Holdings `json:"holdings"`
}

func mismatch(typ IssueType, bucket string, expected, actual *big.Int) Issue {
	return Issue{
		Type:     typ,
		Bucket:   bucket,
		Expected: new(big.Int).Set(expected),
		Actual:   new(big.Int).Set(actual),
		Delta:    new(big.Int).Sub(actual, expected),
	}
}

func sortedBuckets(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reconcile compares ledger-derived totals against stored holdings and
// returns every divergence as a typed issue. Vault buckets are compared
// over the union of ledger and holdings keys, a missing side counting as
// zero.
func Reconcile(ledger *Totals, holdings *Holdings) []Issue {
	var issues []Issue

	if ledger.Wallet.Cmp(holdings.Available) != 0 {
		issues = append(issues, mismatch(IssueWalletMismatch, "", ledger.Wallet, holdings.Available))
	}

	union := make(map[string]*big.Int, len(ledger.Vaults)+len(holdings.Vaults))
	for k := range ledger.Vaults {
		union[k] = nil
	}
	for k := range holdings.Vaults {
		union[k] = nil
	}
	zero := new(big.Int)
	for _, bucket := range sortedBuckets(union) {
		expected, actual := zero, zero
		if v, ok := ledger.Vaults[bucket]; ok {
			expected = v
		}
		if v, ok := holdings.Vaults[bucket]; ok {
			actual = v
		}
		if expected.Cmp(actual) != 0 {
			issues = append(issues, mismatch(IssueVaultMismatch, bucket, expected, actual))
		}
	}

	if ledger.Allocated.Cmp(holdings.Allocated) != 0 {
		issues = append(issues, mismatch(IssueAllocatedMismatch, "", ledger.Allocated, holdings.Allocated))
	}
	if ledger.PnL.Cmp(holdings.PnL) != 0 {
		issues = append(issues, mismatch(IssuePnLMismatch, "", ledger.PnL, holdings.PnL))
	}
	if eq := ledger.Equity(); eq.Cmp(holdings.Equity) != 0 {
		issues = append(issues, mismatch(IssueEquityMismatch, "", eq, holdings.Equity))
	}

	issues = append(issues, ValidateHoldingsInvariants(holdings)...)

	return issues
}

// Engine loads a user's operations and holdings from storage and
// reconciles them.
type Engine struct {
	ops       storage.OperationStore
	balances  storage.BalanceStore
	vaults    storage.VaultStore
	positions storage.PositionStore
}

// EngineOptions configures a reconciliation engine.
type EngineOptions struct {
	Operations storage.OperationStore
	Balances   storage.BalanceStore
	Vaults     storage.VaultStore
	Positions  storage.PositionStore
}

// NewEngine builds a reconciliation engine over the given stores.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Operations == nil || opts.Balances == nil || opts.Vaults == nil || opts.Positions == nil {
		return nil, fmt.Errorf("ledger: all stores are required: %w", storage.ErrInvalidInput)
	}
	return &Engine{
		ops:       opts.Operations,
		balances:  opts.Balances,
		vaults:    opts.Vaults,
		positions: opts.Positions,
	}, nil
}

// ReconcileUser produces an advisory report for one user and asset.
// A wallet row missing entirely is treated as a zero balance.
func (e *Engine) ReconcileUser(ctx context.Context, userID, asset string) (*Report, error) {
	ops, err := e.ops.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load operations for user %s: %w", userID, err)
	}

	wallet, err := e.balances.GetWallet(ctx, userID, asset)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load wallet for user %s: %w", userID, err)
	}

	vaults, err := e.vaults.GetByUser(ctx, userID, asset)
	if err != nil {
		return nil, fmt.Errorf("load vaults for user %s: %w", userID, err)
	}

	positions, err := e.positions.GetByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions for user %s: %w", userID, err)
	}

	ledger := ComputeLedgerTotals(ops, asset)
	holdings := ComputeHoldingsTotals(wallet, vaults, positions)
	issues := Reconcile(ledger, holdings)

	return &Report{
		UserID:   userID,
		Asset:    asset,
		OK:       len(issues) == 0,
		Issues:   issues,
		Ledger:   ledger,
		Holdings: holdings,
	}, nil
}
