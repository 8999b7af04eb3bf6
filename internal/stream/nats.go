package stream

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"invest-sim-lab/internal/domain"
)

// JetStream relay constants.
const (
	StreamName    = "SIM_EVENTS"
	subjectPrefix = "sim.events."
)

// Subject returns the relay subject for one session.
func Subject(sessionID string) string {
	return subjectPrefix + sessionID
}

// NATSRelay republishes session events to JetStream so consumers
// outside this process can follow sessions.
type NATSRelay struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// NewNATSRelay connects the relay and ensures the stream exists.
func NewNATSRelay(url string, logger *zap.Logger) (*NATSRelay, *nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + "*"},
	}
	if _, err := js.AddStream(cfg); err != nil {
		// Stream may already exist with an older config.
		if _, err := js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return &NATSRelay{js: js, log: logger}, nc, nil
}

// Publish relays one event. Delivery is best effort; the durable log in
// storage remains the source of truth.
func (r *NATSRelay) Publish(sessionID string, e *domain.SimEvent) {
	msg, err := json.Marshal(e)
	if err != nil {
		r.log.Error("marshal event", zap.Error(err))
		return
	}
	if _, err := r.js.PublishAsync(Subject(sessionID), msg); err != nil {
		r.log.Warn("relay publish",
			zap.String("session_id", sessionID),
			zap.Int64("seq", e.Seq),
			zap.Error(err))
	}
}

// Tee fans one event out to multiple sinks.
type Tee []interface {
	Publish(sessionID string, e *domain.SimEvent)
}

// Publish forwards to every sink in order.
func (t Tee) Publish(sessionID string, e *domain.SimEvent) {
	for _, sink := range t {
		sink.Publish(sessionID, e)
	}
}
