package domain

import "encoding/json"

// EventType classifies a session event.
type EventType string

// Event type constants.
const (
	EventTypeCandle EventType = "candle"
	EventTypeTrade  EventType = "trade"
	EventTypeEquity EventType = "equity"
	EventTypeStatus EventType = "status"
	EventTypeError  EventType = "error"
)

// SimEvent is one append-only session event.
// (SessionID, Seq) is unique; Seq is strictly increasing per session with
// no gaps. Events are never mutated after insertion.
type SimEvent struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}
