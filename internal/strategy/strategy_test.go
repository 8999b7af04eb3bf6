package strategy

import (
	"context"
	"errors"
	"testing"

	"invest-sim-lab/internal/domain"
)

func candleAt(bar int, close float64) *domain.Candle {
	return &domain.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: domain.Timeframe1m,
		Ts:        int64(bar) * 60_000,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
	}
}

// feed drives an engine over a close series and collects all events.
func feed(t *testing.T, e Engine, closes []float64) []*Event {
	t.Helper()

	var all []*Event
	for i, c := range closes {
		events, err := e.OnCandle(context.Background(), candleAt(i, c), nil)
		if err != nil {
			t.Fatalf("OnCandle bar %d: %v", i, err)
		}
		all = append(all, events...)
	}
	return all
}

// crossSeries rises long enough for an upward cross, then collapses to
// force a downward cross.
func crossSeries() []float64 {
	var closes []float64
	for i := 0; i < 12; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 6; i++ {
		closes = append(closes, 100+float64(i+1)*5)
	}
	for i := 0; i < 8; i++ {
		closes = append(closes, 130-float64(i+1)*10)
	}
	return closes
}

func TestSMACross_RoundTrip(t *testing.T) {
	e, err := NewSMACross(3, 8, 1_000_000, false)
	if err != nil {
		t.Fatalf("NewSMACross: %v", err)
	}

	events := feed(t, e, crossSeries())

	var trades, equities int
	for _, ev := range events {
		switch ev.Kind {
		case EventTrade:
			trades++
			if ev.Trade == nil || ev.Trade.NetPnL == nil {
				t.Fatal("trade event without trade payload")
			}
		case EventEquity:
			equities++
		}
	}
	if trades == 0 {
		t.Error("expected at least one completed trade")
	}
	if equities != len(crossSeries()) {
		t.Errorf("equity events = %d, want one per bar (%d)", equities, len(crossSeries()))
	}
}

func TestSMACross_Deterministic(t *testing.T) {
	run := func() []*Event {
		e, _ := NewSMACross(3, 8, 1_000_000, false)
		return feed(t, e, crossSeries())
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("event counts diverge: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Kind != b[i].Kind {
			t.Fatalf("event %d kind diverges: %s vs %s", i, a[i].Kind, b[i].Kind)
		}
		if a[i].Kind == EventTrade && a[i].Trade.NetPnL.Cmp(b[i].Trade.NetPnL) != 0 {
			t.Fatalf("event %d pnl diverges", i)
		}
	}
}

func TestSMACross_StateRestoreContinues(t *testing.T) {
	closes := crossSeries()
	split := 15

	full, _ := NewSMACross(3, 8, 1_000_000, false)
	wantEvents := feed(t, full, closes)

	first, _ := NewSMACross(3, 8, 1_000_000, false)
	gotEvents := feed(t, first, closes[:split])

	blob, err := first.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	second, _ := NewSMACross(3, 8, 1_000_000, false)
	if err := second.SetState(blob); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	for i, c := range closes[split:] {
		events, err := second.OnCandle(context.Background(), candleAt(split+i, c), nil)
		if err != nil {
			t.Fatalf("OnCandle: %v", err)
		}
		gotEvents = append(gotEvents, events...)
	}

	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("restored run produced %d events, uninterrupted run %d", len(gotEvents), len(wantEvents))
	}
	for i := range gotEvents {
		if gotEvents[i].Kind != wantEvents[i].Kind {
			t.Fatalf("event %d diverges after restore: %s vs %s", i, gotEvents[i].Kind, wantEvents[i].Kind)
		}
	}
}

func TestSMACross_RejectsBadPeriods(t *testing.T) {
	if _, err := NewSMACross(8, 3, 1_000, false); err == nil {
		t.Error("expected error for fast >= slow")
	}
	if _, err := NewSMACross(0, 3, 1_000, false); err == nil {
		t.Error("expected error for zero fast period")
	}
}

func TestSMACross_SetStateRejectsCorrupt(t *testing.T) {
	e, _ := NewSMACross(3, 8, 1_000, false)
	if err := e.SetState([]byte("{not json")); err == nil {
		t.Error("expected error for malformed state")
	}
	if err := e.SetState([]byte(`{"equity":"abc"}`)); err == nil {
		t.Error("expected error for non-numeric equity")
	}
}

func TestFromSlug(t *testing.T) {
	cfg := domain.SessionConfig{StartingEquityMinor: 1_000_000}

	if _, err := FromSlug(SlugSMACross, cfg); err != nil {
		t.Errorf("FromSlug(%s): %v", SlugSMACross, err)
	}
	if _, err := FromSlug(SlugSMACrossFast, cfg); err != nil {
		t.Errorf("FromSlug(%s): %v", SlugSMACrossFast, err)
	}
	if _, err := FromSlug(SlugStub, cfg); err != nil {
		t.Errorf("FromSlug(%s): %v", SlugStub, err)
	}

	if _, err := FromSlug("nope", cfg); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("unknown slug error = %v, want ErrUnknownStrategy", err)
	}
	if _, err := FromSlug(SlugSMACross, domain.SessionConfig{}); !errors.Is(err, ErrMissingEquity) {
		t.Errorf("zero equity error = %v, want ErrMissingEquity", err)
	}
}

func TestStub_ScriptedOutput(t *testing.T) {
	s := NewStub(500)

	var trades int
	for i := 0; i < 11; i++ {
		events, err := s.OnCandle(context.Background(), candleAt(i, 100), nil)
		if err != nil {
			t.Fatalf("OnCandle: %v", err)
		}
		for _, ev := range events {
			if ev.Kind == EventTrade {
				trades++
			}
		}
	}
	// Bars 5 and 10 emit trades.
	if trades != 2 {
		t.Errorf("trades = %d, want 2", trades)
	}
	if s.Bars() != 11 {
		t.Errorf("Bars = %d, want 11", s.Bars())
	}
}
