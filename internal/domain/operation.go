package domain

import "math/big"

// OpType classifies a ledger operation.
type OpType string

// Ledger operation types.
const (
	OpDeposit       OpType = "DEPOSIT"
	OpWithdraw      OpType = "WITHDRAW"
	OpInvest        OpType = "INVEST"
	OpVaultTransfer OpType = "VAULT_TRANSFER"
	OpProfitAccrual OpType = "PROFIT_ACCRUAL"
)

// OpStatus is the processing state of an operation.
type OpStatus string

// Operation statuses. Pending, processing and completed operations all
// count toward ledger totals; failed and cancelled ones do not.
const (
	OpPending    OpStatus = "PENDING"
	OpProcessing OpStatus = "PROCESSING"
	OpCompleted  OpStatus = "COMPLETED"
	OpFailed     OpStatus = "FAILED"
	OpCancelled  OpStatus = "CANCELLED"
)

// WalletBucket names the wallet as a vault-transfer endpoint.
const WalletBucket = "wallet"

// Operation is an append-only ledger record. Amount and Fee are
// arbitrary-precision integers in minor units. Immutable once completed.
type Operation struct {
	OpID       string   `json:"op_id"`
	UserID     string   `json:"user_id"`
	Type       OpType   `json:"type"`
	Status     OpStatus `json:"status"`
	Asset      string   `json:"asset"`
	Amount     *big.Int `json:"amount"`
	Fee        *big.Int `json:"fee,omitempty"`
	VaultFrom  string   `json:"vault_from,omitempty"`
	VaultTo    string   `json:"vault_to,omitempty"`
	StrategyID string   `json:"strategy_id,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}
