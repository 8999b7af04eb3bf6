package domain

import "math/big"

// Trade is a completed round trip produced by a strategy engine.
// NetPnL is in minor units of the settlement asset; PctPnL is a display
// ratio and may use floating point.
type Trade struct {
	EntryTs    int64    `json:"entry_ts"`
	ExitTs     int64    `json:"exit_ts"`
	EntryPrice float64  `json:"entry_price"`
	ExitPrice  float64  `json:"exit_price"`
	Quantity   float64  `json:"quantity"`
	NetPnL     *big.Int `json:"net_pnl"`
	PctPnL     float64  `json:"pct_pnl"`
	HoldBars   int      `json:"hold_bars"`
	Reason     string   `json:"reason"`
}
