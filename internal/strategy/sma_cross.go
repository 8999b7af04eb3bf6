package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"invest-sim-lab/internal/domain"
)

// SMACross trades crossovers of a fast and a slow simple moving average
// of the close. It goes all-in on an upward cross and flattens on a
// downward cross; P&L is booked in minor units against running equity.
type SMACross struct {
	fastPeriod int
	slowPeriod int
	oracleExit bool
	starting   *big.Int

	st smaState
}

// smaState is the serializable engine state.
type smaState struct {
	Bar        int       `json:"bar"`
	Closes     []float64 `json:"closes"`
	InPosition bool      `json:"in_position"`
	EntryPrice float64   `json:"entry_price"`
	EntryTs    int64     `json:"entry_ts"`
	EntryBar   int       `json:"entry_bar"`
	Equity     string    `json:"equity"` // big.Int decimal string
}

// NewSMACross builds an SMA crossover engine. fast must be shorter than
// slow; startingEquity is the initial equity in minor units.
func NewSMACross(fast, slow int, startingEquity int64, oracleExit bool) (*SMACross, error) {
	if fast <= 0 || slow <= fast {
		return nil, fmt.Errorf("sma-cross: need 0 < fast < slow, got %d/%d", fast, slow)
	}
	s := &SMACross{
		fastPeriod: fast,
		slowPeriod: slow,
		oracleExit: oracleExit,
		starting:   big.NewInt(startingEquity),
	}
	s.Reset()
	return s, nil
}

func sma(closes []float64, period int) float64 {
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// OnCandle advances one bar. Emits a trade event on close of a position
// and an equity event every bar.
func (s *SMACross) OnCandle(_ context.Context, c *domain.Candle, future []*domain.Candle) ([]*Event, error) {
	if c == nil {
		return nil, fmt.Errorf("sma-cross: nil candle")
	}

	bar := s.st.Bar
	s.st.Bar++
	s.st.Closes = append(s.st.Closes, c.Close)
	if len(s.st.Closes) > s.slowPeriod+1 {
		s.st.Closes = s.st.Closes[1:]
	}

	var events []*Event

	if len(s.st.Closes) > s.slowPeriod {
		prev := s.st.Closes[:len(s.st.Closes)-1]
		fastPrev, slowPrev := sma(prev, s.fastPeriod), sma(prev, s.slowPeriod)
		fastNow, slowNow := sma(s.st.Closes, s.fastPeriod), sma(s.st.Closes, s.slowPeriod)

		crossedUp := fastPrev <= slowPrev && fastNow > slowNow
		crossedDown := fastPrev >= slowPrev && fastNow < slowNow

		// Oracle exit bails out one bar early when the look-ahead window
		// shows the next close under the current one.
		oracleBail := s.oracleExit && len(future) > 0 && future[0].Close < c.Close

		switch {
		case !s.st.InPosition && crossedUp:
			s.st.InPosition = true
			s.st.EntryPrice = c.Close
			s.st.EntryTs = c.Ts
			s.st.EntryBar = bar

		case s.st.InPosition && (crossedDown || oracleBail):
			reason := "sma-cross-down"
			if !crossedDown {
				reason = "oracle-exit"
			}
			events = append(events, &Event{Kind: EventTrade, Trade: s.closePosition(c, bar, reason)})
		}
	}

	equity, err := s.equity()
	if err != nil {
		return nil, err
	}
	events = append(events, &Event{
		Kind:   EventEquity,
		Equity: &EquityPoint{Ts: c.Ts, Equity: equity},
	})

	return events, nil
}

// closePosition books the trade against running equity and clears the
// position.
func (s *SMACross) closePosition(c *domain.Candle, bar int, reason string) *domain.Trade {
	pctPnL := (c.Close - s.st.EntryPrice) / s.st.EntryPrice

	equity, _ := s.equity()
	pnl := mulPct(equity, pctPnL)
	equity.Add(equity, pnl)
	s.st.Equity = equity.String()

	trade := &domain.Trade{
		EntryTs:    s.st.EntryTs,
		ExitTs:     c.Ts,
		EntryPrice: s.st.EntryPrice,
		ExitPrice:  c.Close,
		Quantity:   1,
		NetPnL:     pnl,
		PctPnL:     pctPnL * 100,
		HoldBars:   bar - s.st.EntryBar,
		Reason:     reason,
	}

	s.st.InPosition = false
	s.st.EntryPrice = 0
	s.st.EntryTs = 0
	s.st.EntryBar = 0

	return trade
}

// mulPct scales a minor-unit amount by a float fraction, truncating
// toward zero.
func mulPct(amount *big.Int, pct float64) *big.Int {
	f := new(big.Float).SetInt(amount)
	f.Mul(f, big.NewFloat(pct))
	out, _ := f.Int(nil)
	return out
}

func (s *SMACross) equity() (*big.Int, error) {
	eq, ok := new(big.Int).SetString(s.st.Equity, 10)
	if !ok {
		return nil, fmt.Errorf("sma-cross: corrupt equity state %q", s.st.Equity)
	}
	return eq, nil
}

// State serializes the engine state.
func (s *SMACross) State() ([]byte, error) {
	return json.Marshal(s.st)
}

// SetState restores state produced by State.
func (s *SMACross) SetState(data []byte) error {
	var st smaState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("sma-cross: restore state: %w", err)
	}
	if _, ok := new(big.Int).SetString(st.Equity, 10); !ok {
		return fmt.Errorf("sma-cross: restore state: bad equity %q", st.Equity)
	}
	s.st = st
	return nil
}

// Reset returns the engine to its initial configuration.
func (s *SMACross) Reset() {
	s.st = smaState{Equity: s.starting.String()}
}

var _ Engine = (*SMACross)(nil)
