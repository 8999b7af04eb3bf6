package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"invest-sim-lab/internal/domain"
)

// Stub is a deterministic scripted engine used by runner and stream
// tests. It emits one equity event per bar and a flat trade every fifth
// bar, and faithfully round-trips its bar counter through State/SetState.
type Stub struct {
	starting int64

	// Bars counts processed candles; exported through State.
	bars int

	// SawFuture records whether any call received look-ahead candles.
	SawFuture bool

	// FailAtBar makes OnCandle return an error at the given 0-based bar.
	// Zero disables the failure.
	FailAtBar int
}

type stubState struct {
	Bars int `json:"bars"`
}

// NewStub builds a scripted engine.
func NewStub(startingEquity int64) *Stub {
	return &Stub{starting: startingEquity}
}

// Bars returns the number of candles processed.
func (s *Stub) Bars() int { return s.bars }

// OnCandle emits the scripted events for one bar.
func (s *Stub) OnCandle(_ context.Context, c *domain.Candle, future []*domain.Candle) ([]*Event, error) {
	if len(future) > 0 {
		s.SawFuture = true
	}
	if s.FailAtBar > 0 && s.bars == s.FailAtBar {
		return nil, fmt.Errorf("stub: scripted failure at bar %d", s.bars)
	}

	bar := s.bars
	s.bars++

	var events []*Event
	if bar > 0 && bar%5 == 0 {
		events = append(events, &Event{Kind: EventTrade, Trade: &domain.Trade{
			EntryTs:    c.Ts - 5*60_000,
			ExitTs:     c.Ts,
			EntryPrice: c.Open,
			ExitPrice:  c.Close,
			Quantity:   1,
			NetPnL:     big.NewInt(0),
			HoldBars:   5,
			Reason:     "scripted",
		}})
	}
	events = append(events, &Event{Kind: EventEquity, Equity: &EquityPoint{
		Ts:     c.Ts,
		Equity: big.NewInt(s.starting),
	}})

	return events, nil
}

// State serializes the bar counter.
func (s *Stub) State() ([]byte, error) {
	return json.Marshal(stubState{Bars: s.bars})
}

// SetState restores the bar counter.
func (s *Stub) SetState(data []byte) error {
	var st stubState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("stub: restore state: %w", err)
	}
	s.bars = st.Bars
	return nil
}

// Reset clears all progress.
func (s *Stub) Reset() {
	s.bars = 0
	s.SawFuture = false
}

var _ Engine = (*Stub)(nil)
