package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves a session's event stream over a websocket.
// The client passes from_seq as a query parameter to resume a dropped
// connection without losing events.
type WSHandler struct {
	hub *Hub
	log *zap.Logger
}

// NewWSHandler creates a websocket handler over the hub.
func NewWSHandler(hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{hub: hub, log: logger}
}

// Serve upgrades the request and streams events for sessionID until the
// client disconnects.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	fromSeq := int64(1)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from_seq", http.StatusBadRequest)
			return
		}
		fromSeq = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.hub.Subscribe(ctx, sessionID, fromSeq)
	if err != nil {
		h.log.Error("subscribe", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	// Drain the read side so client close frames terminate the stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for e := range events {
		msg, err := json.Marshal(e)
		if err != nil {
			h.log.Error("marshal event", zap.Error(err))
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
