// Package stream fans session events out to live subscribers, with
// catch-up from the durable event log.
package stream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/observability"
	"invest-sim-lab/internal/storage"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind starts losing events; the seq numbers let
// it detect the loss and re-subscribe from its last seen seq.
const subscriberBuffer = 256

// Hub is the in-process fan-out point between the session runner and
// stream consumers.
type Hub struct {
	events storage.SimEventStore
	log    *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // session_id -> subscribers
}

type subscriber struct {
	ch chan *domain.SimEvent
}

// NewHub creates a hub backed by the durable event store.
func NewHub(events storage.SimEventStore, logger *zap.Logger) (*Hub, error) {
	if events == nil {
		return nil, fmt.Errorf("stream: event store is required: %w", storage.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		events: events,
		log:    logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}, nil
}

// Publish delivers one event to all live subscribers of a session.
// Never blocks the caller; slow subscribers drop.
func (h *Hub) Publish(sessionID string, e *domain.SimEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- e:
		default:
			observability.RecordStreamDropped()
		}
	}
}

// Subscribe streams a session's events in seq order, starting at
// fromSeq: first the stored backlog, then live events, deduplicated on
// the seq number. The returned channel closes when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, fromSeq int64) (<-chan *domain.SimEvent, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}

	sub := &subscriber{ch: make(chan *domain.SimEvent, subscriberBuffer)}

	// Register before the backlog read so no event can fall between the
	// two; overlap is removed by the seq cursor below.
	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	total := h.total()
	h.mu.Unlock()
	observability.UpdateStreamSubscribers(total)

	backlog, err := h.events.GetBySession(ctx, sessionID, fromSeq)
	if err != nil {
		h.unsubscribe(sessionID, sub)
		return nil, fmt.Errorf("load backlog for session %s: %w", sessionID, err)
	}

	out := make(chan *domain.SimEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer h.unsubscribe(sessionID, sub)

		next := fromSeq
		for _, e := range backlog {
			select {
			case out <- e:
				next = e.Seq + 1
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case e := <-sub.ch:
				if e.Seq < next {
					continue // already sent from the backlog
				}
				select {
				case out <- e:
					next = e.Seq + 1
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (h *Hub) unsubscribe(sessionID string, sub *subscriber) {
	h.mu.Lock()
	if subs, exists := h.subs[sessionID]; exists {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, sessionID)
		}
	}
	total := h.total()
	h.mu.Unlock()
	observability.UpdateStreamSubscribers(total)
}

// total counts subscribers across sessions. Caller holds h.mu.
func (h *Hub) total() int {
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}
