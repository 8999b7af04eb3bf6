package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invest-sim-lab/internal/candles"
	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/equity"
	"invest-sim-lab/internal/ledger"
	"invest-sim-lab/internal/session"
	"invest-sim-lab/internal/storage/memory"
	"invest-sim-lab/internal/stream"
)

const testWindowStart = int64(1_700_000_000_000)

type testEnv struct {
	router   *gin.Engine
	sessions *memory.SimSessionStore
	events   *memory.SimEventStore
	candles  *memory.CandleStore
	holdings *memory.HoldingsStore
	ops      *memory.OperationStore
}

func newTestEnv(t *testing.T, bars int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := memory.NewSimSessionStore()
	events := memory.NewSimEventStore()
	candleStore := memory.NewCandleStore()
	holdings := memory.NewHoldingsStore()
	ops := memory.NewOperationStore()
	performance := memory.NewPerformanceStore()

	series := make([]*domain.Candle, 0, bars)
	for i := 0; i < bars; i++ {
		ts := testWindowStart + int64(i)*60_000
		price := 100 + float64(i)
		series = append(series, &domain.Candle{
			Symbol: "BTCUSDT", Timeframe: domain.Timeframe1m, Ts: ts,
			Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 10,
		})
	}
	require.NoError(t, candleStore.InsertBulk(context.Background(), series))

	loader, err := candles.NewStoreLoader(candleStore)
	require.NoError(t, err)

	hub, err := stream.NewHub(events, nil)
	require.NoError(t, err)

	runner, err := session.NewRunner(session.Options{
		Sessions: sessions,
		Events:   events,
		Loader:   loader,
		Sink:     hub,
	})
	require.NoError(t, err)

	reconciler, err := ledger.NewEngine(ledger.EngineOptions{
		Operations: ops,
		Balances:   holdings,
		Vaults:     holdings,
		Positions:  holdings.Positions(),
	})
	require.NoError(t, err)

	aggregator, err := equity.NewAggregator(holdings.Positions(), performance)
	require.NoError(t, err)

	handler, err := NewHandler(Options{
		Runner:     runner,
		Sessions:   sessions,
		Events:     events,
		Reconciler: reconciler,
		Equity:     aggregator,
		WS:         stream.NewWSHandler(hub, nil),
		Asset:      "USDT",
	})
	require.NoError(t, err)

	return &testEnv{
		router:   handler.Router(),
		sessions: sessions,
		events:   events,
		candles:  candleStore,
		holdings: holdings,
		ops:      ops,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func createBody(bars int) map[string]any {
	return map[string]any{
		"user_id":       "user-1",
		"strategy_slug": "stub",
		"symbol":        "BTCUSDT",
		"timeframe":     "1m",
		"start_ms":      testWindowStart,
		"end_ms":        testWindowStart + int64(bars)*60_000,
		"speed":         0,
		"config": map[string]any{
			"min_warmup_bars":       1,
			"starting_equity_minor": 1_000_000,
		},
	}
}

// waitFinished polls until the session reaches FINISHED.
func (e *testEnv) waitFinished(t *testing.T, sessionID string) *domain.SimSession {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := e.sessions.GetByID(context.Background(), sessionID)
		require.NoError(t, err)
		if sess.Status == domain.SessionFinished {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s did not finish", sessionID)
	return nil
}

func TestCreateSession_RunsToCompletion(t *testing.T) {
	env := newTestEnv(t, 12)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", createBody(12))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	sess := env.waitFinished(t, created.SessionID)
	assert.Equal(t, 11, sess.BarIndex)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.SessionFinished, got.Status)
}

func TestCreateSession_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, 12)

	body := createBody(12)
	delete(body, "user_id")
	rec := env.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = createBody(12)
	body["strategy_slug"] = "no-such-strategy"
	rec = env.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = createBody(12)
	body["timeframe"] = "7m"
	rec = env.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A window shorter than the warmup never creates a session.
	body = createBody(12)
	body["end_ms"] = testWindowStart + 60_000
	body["config"] = map[string]any{"min_warmup_bars": 5, "starting_equity_minor": 1_000_000}
	rec = env.do(t, http.MethodPost, "/api/v1/sessions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	listed, err := env.sessions.ListByStatus(context.Background(), domain.SessionCreated)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestCreateSession_IdempotencyKeyReplay(t *testing.T) {
	env := newTestEnv(t, 12)

	body := createBody(12)
	body["idempotency_key"] = "replay-key"

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	env.waitFinished(t, first.SessionID)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var second domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestStopSession_TerminalConflict(t *testing.T) {
	env := newTestEnv(t, 12)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", createBody(12))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	env.waitFinished(t, created.SessionID)

	// Stopping a finished session is a terminal-state conflict.
	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessionEndpoints_NotFound(t *testing.T) {
	env := newTestEnv(t, 12)

	for _, path := range []string{
		"/api/v1/sessions/missing",
		"/api/v1/sessions/missing/events",
		"/api/v1/sessions/missing/metrics",
	} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEvents_FromSeqCursor(t *testing.T) {
	env := newTestEnv(t, 12)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", createBody(12))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	sess := env.waitFinished(t, created.SessionID)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []*domain.SimEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, int(sess.LastSeq))
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Seq)
	}

	from := sess.LastSeq - 2
	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/sessions/%s/events?from_seq=%d", created.SessionID, from), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tail []*domain.SimEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tail))
	require.Len(t, tail, 3)
	assert.Equal(t, from, tail[0].Seq)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/events?from_seq=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMetrics_ComputesFromTradeEvents(t *testing.T) {
	env := newTestEnv(t, 12)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", createBody(12))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.SimSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	env.waitFinished(t, created.SessionID)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		TotalTrades  int     `json:"total_trades"`
		ProfitFactor float64 `json:"profit_factor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	// The scripted strategy books a flat trade at bars 5 and 10.
	assert.Equal(t, 2, summary.TotalTrades)
	// Flat trades count toward losses, so both gross sides are zero.
	assert.Equal(t, 0.0, summary.ProfitFactor)
}

func TestGetReconciliation_ReportsMismatch(t *testing.T) {
	env := newTestEnv(t, 12)
	ctx := context.Background()

	require.NoError(t, env.ops.Insert(ctx, &domain.Operation{
		OpID:      "op-1",
		UserID:    "user-1",
		Type:      domain.OpDeposit,
		Status:    domain.OpCompleted,
		Asset:     "USDT",
		Amount:    big.NewInt(100_000_000),
		CreatedAt: 100,
	}))
	env.holdings.SetWallet(&domain.WalletBalance{
		UserID: "user-1", Asset: "USDT", Amount: big.NewInt(100_000_000),
	})

	rec := env.do(t, http.MethodGet, "/api/v1/users/user-1/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ledger.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.OK)
	assert.Empty(t, report.Issues)

	// Drift the live wallet; the report flags it but the request still
	// succeeds. Reconciliation is advisory.
	env.holdings.SetWallet(&domain.WalletBalance{
		UserID: "user-1", Asset: "USDT", Amount: big.NewInt(99_000_000),
	})
	rec = env.do(t, http.MethodGet, "/api/v1/users/user-1/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Issues)
	assert.Equal(t, ledger.IssueWalletMismatch, report.Issues[0].Type)
}

func TestGetSimulatedEquity(t *testing.T) {
	env := newTestEnv(t, 12)

	env.holdings.SetPosition(&domain.Position{
		PositionID:   "pos-1",
		UserID:       "user-1",
		StrategyID:   "alpha",
		Principal:    big.NewInt(10_000),
		CurrentValue: big.NewInt(12_000),
		Status:       domain.PositionOpen,
		CreatedAt:    100,
	})

	rec := env.do(t, http.MethodGet, "/api/v1/users/user-1/equity/simulated", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result equity.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.TotalPrincipal.Cmp(big.NewInt(10_000)))
	assert.Zero(t, result.TotalCurrentValue.Cmp(big.NewInt(12_000)))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 12)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
