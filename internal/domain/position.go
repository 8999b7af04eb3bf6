package domain

import "math/big"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

// Position statuses. Positions are never deleted, only closed.
const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is a user allocation into a strategy. All monetary fields are
// arbitrary-precision integers in minor units.
type Position struct {
	PositionID       string         `json:"position_id"`
	UserID           string         `json:"user_id"`
	StrategyID       string         `json:"strategy_id"`
	Principal        *big.Int       `json:"principal"`
	CurrentValue     *big.Int       `json:"current_value"`
	AccruedProfit    *big.Int       `json:"accrued_profit"`
	Paused           bool           `json:"paused"`
	DrawdownLimitPct float64        `json:"drawdown_limit_pct"`
	AutoPause        bool           `json:"auto_pause"`
	Status           PositionStatus `json:"status"`
	CreatedAt        int64          `json:"created_at"`
}

// WalletBalance is a user's live stored wallet balance in minor units.
type WalletBalance struct {
	UserID string   `json:"user_id"`
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
}

// VaultBalance is a user's balance in one named vault bucket.
type VaultBalance struct {
	UserID string   `json:"user_id"`
	Bucket string   `json:"bucket"`
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
}
