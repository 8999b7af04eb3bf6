package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/storage/memory"
)

func event(sessionID string, seq int64) *domain.SimEvent {
	return &domain.SimEvent{
		SessionID: sessionID,
		Seq:       seq,
		Timestamp: seq * 1000,
		Type:      domain.EventTypeEquity,
		Payload:   json.RawMessage(`{}`),
	}
}

func collect(t *testing.T, ch <-chan *domain.SimEvent, n int) []*domain.SimEvent {
	t.Helper()

	var out []*domain.SimEvent
	deadline := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestSubscribe_BacklogThenLive(t *testing.T) {
	store := memory.NewSimEventStore()
	hub, err := NewHub(store, nil)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backlog: seqs 1-3 already durable.
	for seq := int64(1); seq <= 3; seq++ {
		if err := store.Insert(ctx, event("s1", seq)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ch, err := hub.Subscribe(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got := collect(t, ch, 3)

	// Live: seqs 4-5 published after the backlog drained.
	for seq := int64(4); seq <= 5; seq++ {
		if err := store.Insert(ctx, event("s1", seq)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		hub.Publish("s1", event("s1", seq))
	}
	got = append(got, collect(t, ch, 2)...)

	for i, e := range got {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestSubscribe_FromSeqSkipsPrefix(t *testing.T) {
	store := memory.NewSimEventStore()
	hub, _ := NewHub(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for seq := int64(1); seq <= 5; seq++ {
		if err := store.Insert(ctx, event("s1", seq)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ch, err := hub.Subscribe(ctx, "s1", 4)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	got := collect(t, ch, 2)
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("seqs = %d, %d; want 4, 5", got[0].Seq, got[1].Seq)
	}
}

func TestSubscribe_OverlapDeduplicated(t *testing.T) {
	store := memory.NewSimEventStore()
	hub, _ := NewHub(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event 1 is durable; publishing it again while the subscriber is
	// catching up must not deliver it twice.
	if err := store.Insert(ctx, event("s1", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ch, err := hub.Subscribe(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hub.Publish("s1", event("s1", 1))

	if err := store.Insert(ctx, event("s1", 2)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	hub.Publish("s1", event("s1", 2))

	got := collect(t, ch, 2)
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Fatalf("seqs = %d, %d; want 1, 2", got[0].Seq, got[1].Seq)
	}

	// Nothing further should arrive.
	select {
	case e := <-ch:
		t.Fatalf("unexpected extra event seq %d", e.Seq)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_SessionsIsolated(t *testing.T) {
	store := memory.NewSimEventStore()
	hub, _ := NewHub(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := hub.Subscribe(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := store.Insert(ctx, event("s2", 1)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	hub.Publish("s2", event("s2", 1))

	select {
	case e := <-ch:
		t.Fatalf("subscriber for s1 received event for %s", e.SessionID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	store := memory.NewSimEventStore()
	hub, _ := NewHub(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := hub.Subscribe(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("channel never closed after cancel")
		}
	}
}
