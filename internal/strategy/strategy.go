// Package strategy defines the engine contract the session runner drives
// and the concrete engines selectable by profile slug.
package strategy

import (
	"context"
	"math/big"

	"invest-sim-lab/internal/domain"
)

// EventKind classifies an engine output.
type EventKind string

// Engine output kinds.
const (
	EventTrade  EventKind = "trade"
	EventEquity EventKind = "equity"
)

// EquityPoint is the engine's equity mark after a bar, in minor units.
type EquityPoint struct {
	Ts     int64    `json:"ts"`
	Equity *big.Int `json:"equity"`
}

// Event is one engine output for a bar. Exactly one of Trade or Equity
// is set, matching Kind.
type Event struct {
	Kind   EventKind     `json:"kind"`
	Trade  *domain.Trade `json:"trade,omitempty"`
	Equity *EquityPoint  `json:"equity,omitempty"`
}

// Engine is a deterministic strategy instance driven bar by bar.
//
// future is non-nil only when the session runs in research mode with
// oracle access granted; engines must produce identical output for
// identical candle sequences and state.
type Engine interface {
	// OnCandle advances the engine by one bar and returns the events it
	// produced, in emission order.
	OnCandle(ctx context.Context, c *domain.Candle, future []*domain.Candle) ([]*Event, error)

	// State serializes the engine's full internal state.
	State() ([]byte, error)

	// SetState restores state previously produced by State.
	SetState(data []byte) error

	// Reset returns the engine to its initial configuration.
	Reset()
}
