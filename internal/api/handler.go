// Package api exposes the simulation runtime over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/equity"
	"invest-sim-lab/internal/ledger"
	"invest-sim-lab/internal/metrics"
	"invest-sim-lab/internal/observability"
	"invest-sim-lab/internal/session"
	"invest-sim-lab/internal/storage"
	"invest-sim-lab/internal/strategy"
	"invest-sim-lab/internal/stream"
)

// Handler wires the session runner, the reconciliation engine and the
// event stream into gin routes.
type Handler struct {
	runner     *session.Runner
	sessions   storage.SimSessionStore
	events     storage.SimEventStore
	reconciler *ledger.Engine
	equity     *equity.Aggregator
	ws         *stream.WSHandler
	asset      string
	log        *zap.Logger
}

// Options configures a Handler.
type Options struct {
	Runner     *session.Runner
	Sessions   storage.SimSessionStore
	Events     storage.SimEventStore
	Reconciler *ledger.Engine
	Equity     *equity.Aggregator
	WS         *stream.WSHandler
	// Asset is the settlement asset reconciliation reports default to.
	Asset  string
	Logger *zap.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Runner == nil || opts.Sessions == nil || opts.Events == nil {
		return nil, errors.New("api: runner, sessions and events are required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	asset := opts.Asset
	if asset == "" {
		asset = "USDT"
	}
	return &Handler{
		runner:     opts.Runner,
		sessions:   opts.Sessions,
		events:     opts.Events,
		reconciler: opts.Reconciler,
		equity:     opts.Equity,
		ws:         opts.WS,
		asset:      asset,
		log:        log,
	}, nil
}

// Router builds the gin engine with all routes registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sessions", h.CreateSession)
		v1.GET("/sessions/:id", h.GetSession)
		v1.POST("/sessions/:id/pause", h.PauseSession)
		v1.POST("/sessions/:id/resume", h.ResumeSession)
		v1.POST("/sessions/:id/stop", h.StopSession)
		v1.GET("/sessions/:id/events", h.GetEvents)
		v1.GET("/sessions/:id/metrics", h.GetMetrics)
		v1.GET("/sessions/:id/stream", h.StreamSession)

		v1.GET("/users/:id/reconciliation", h.GetReconciliation)
		v1.GET("/users/:id/equity/simulated", h.GetSimulatedEquity)
	}

	return r
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createSessionRequest struct {
	UserID         string               `json:"user_id" binding:"required"`
	StrategySlug   string               `json:"strategy_slug" binding:"required"`
	Symbol         string               `json:"symbol" binding:"required"`
	Timeframe      string               `json:"timeframe" binding:"required"`
	StartMs        int64                `json:"start_ms" binding:"required"`
	EndMs          int64                `json:"end_ms" binding:"required"`
	Speed          float64              `json:"speed"`
	Config         domain.SessionConfig `json:"config"`
	IdempotencyKey string               `json:"idempotency_key"`
}

// CreateSession validates, creates and starts a session. Validation
// failures leave no session behind. A repeated idempotency key returns
// the original session instead of creating another.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.runner.Create(c.Request.Context(), session.CreateParams{
		UserID:         req.UserID,
		StrategySlug:   req.StrategySlug,
		Symbol:         req.Symbol,
		Timeframe:      domain.Timeframe(req.Timeframe),
		StartMs:        req.StartMs,
		EndMs:          req.EndMs,
		Speed:          req.Speed,
		Config:         req.Config,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.runner.Start(c.Request.Context(), sess.SessionID); err != nil {
		// An idempotent replay may hit a session that is already live or
		// already done; the create itself still succeeded.
		if !errors.Is(err, session.ErrSessionActive) &&
			!errors.Is(err, session.ErrNotStartable) &&
			!errors.Is(err, session.ErrTerminal) {
			h.respondError(c, err)
			return
		}
	}

	sess, err = h.sessions.GetByID(c.Request.Context(), sess.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession returns the stored session record.
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.sessions.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// PauseSession snapshots a running session and parks it.
func (h *Handler) PauseSession(c *gin.Context) {
	if err := h.runner.Pause(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SessionPaused)})
}

// ResumeSession continues a paused session at the next unprocessed bar.
func (h *Handler) ResumeSession(c *gin.Context) {
	if err := h.runner.Start(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SessionRunning)})
}

// StopSession terminates a session.
func (h *Handler) StopSession(c *gin.Context) {
	if err := h.runner.Stop(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(domain.SessionStopped)})
}

// GetEvents replays a session's durable event log from an optional
// from_seq cursor.
func (h *Handler) GetEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.sessions.GetByID(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, err)
		return
	}

	fromSeq := int64(1)
	if raw := c.Query("from_seq"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from_seq"})
			return
		}
		fromSeq = parsed
	}

	events, err := h.events.GetBySession(c.Request.Context(), sessionID, fromSeq)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetMetrics computes trade statistics from the session's durable trade
// events.
func (h *Handler) GetMetrics(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	events, err := h.events.GetBySession(c.Request.Context(), sessionID, 1)
	if err != nil {
		h.respondError(c, err)
		return
	}

	trades := make([]*domain.Trade, 0)
	for _, ev := range events {
		if ev.Type != domain.EventTypeTrade {
			continue
		}
		var t domain.Trade
		if err := json.Unmarshal(ev.Payload, &t); err != nil {
			h.log.Warn("skipping malformed trade payload",
				zap.String("session_id", sessionID),
				zap.Int64("seq", ev.Seq),
				zap.Error(err))
			continue
		}
		trades = append(trades, &t)
	}

	summary := metrics.Compute(trades, big.NewInt(sess.Config.StartingEquityMinor))
	c.JSON(http.StatusOK, summary)
}

// StreamSession upgrades to a websocket and streams the session's
// events, backlog first, then live.
func (h *Handler) StreamSession(c *gin.Context) {
	if h.ws == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "streaming is not enabled"})
		return
	}
	sessionID := c.Param("id")
	if _, err := h.sessions.GetByID(c.Request.Context(), sessionID); err != nil {
		h.respondError(c, err)
		return
	}
	h.ws.Serve(c.Writer, c.Request, sessionID)
}

// GetReconciliation runs the advisory ledger-versus-holdings check for
// a user. Discrepancies are reported, never enforced.
func (h *Handler) GetReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "reconciliation is not enabled"})
		return
	}
	asset := c.DefaultQuery("asset", h.asset)

	report, err := h.reconciler.ReconcileUser(c.Request.Context(), c.Param("id"), asset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	issueTypes := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		issueTypes = append(issueTypes, string(issue.Type))
	}
	observability.RecordReconciliation(issueTypes)
	c.JSON(http.StatusOK, report)
}

// GetSimulatedEquity returns the user's aggregated simulated equity
// series across open positions.
func (h *Handler) GetSimulatedEquity(c *gin.Context) {
	if h.equity == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "equity aggregation is not enabled"})
		return
	}
	result, err := h.equity.ForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondError maps domain errors onto HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, session.ErrWindowTooSmall),
		errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, strategy.ErrMissingEquity),
		errors.Is(err, strategy.ErrInvalidSMAPeriods):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNotStartable),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrTerminal),
		errors.Is(err, storage.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
