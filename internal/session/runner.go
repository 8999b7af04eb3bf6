// Package session owns the simulation session lifecycle: creation,
// the bar-by-bar execution loop, pause/resume with durable snapshots,
// and crash recovery.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"invest-sim-lab/internal/candles"
	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/id"
	"invest-sim-lab/internal/observability"
	"invest-sim-lab/internal/storage"
	"invest-sim-lab/internal/strategy"
)

// maxPersistFailures is the number of consecutive persistence errors
// tolerated before a session is failed.
const maxPersistFailures = 3

// EventSink receives every durably stored event, in seq order.
type EventSink interface {
	Publish(sessionID string, e *domain.SimEvent)
}

// intent is a requested lifecycle transition for a live execution.
type intent int

const (
	intentNone intent = iota
	intentPause
	intentStop
)

// execution is the single live writer for one session.
type execution struct {
	sessionID string

	mu     sync.Mutex
	intent intent

	wakeOnce sync.Once
	wake     chan struct{} // closed to interrupt the bar delay
	done     chan struct{} // closed when the loop has exited
}

func newExecution(sessionID string) *execution {
	return &execution{
		sessionID: sessionID,
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// request records a transition wish. The first request wins.
func (e *execution) request(i intent) {
	e.mu.Lock()
	if e.intent == intentNone {
		e.intent = i
	}
	e.mu.Unlock()
	e.wakeOnce.Do(func() { close(e.wake) })
}

func (e *execution) pending() intent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.intent
}

// EngineFactory builds a strategy engine for a profile slug.
type EngineFactory func(slug string, cfg domain.SessionConfig) (strategy.Engine, error)

// Runner drives simulation sessions.
type Runner struct {
	sessions storage.SimSessionStore
	events   storage.SimEventStore
	loader   candles.Loader
	registry *Registry
	sink     EventSink
	factory  EngineFactory
	log      *zap.Logger

	// researchAllowed is the environment-level oracle permission. Future
	// candles reach a strategy only when this AND the session's research
	// mode are both set.
	researchAllowed bool
}

// Options configures a Runner.
type Options struct {
	Sessions      storage.SimSessionStore
	Events        storage.SimEventStore
	Loader        candles.Loader
	Sink          EventSink     // optional
	Factory       EngineFactory // optional, defaults to strategy.FromSlug
	Logger        *zap.Logger   // optional
	AllowResearch bool
}

// NewRunner creates a session runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Sessions == nil || opts.Events == nil || opts.Loader == nil {
		return nil, fmt.Errorf("session: sessions, events and loader are required: %w", storage.ErrInvalidInput)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	factory := opts.Factory
	if factory == nil {
		factory = strategy.FromSlug
	}
	return &Runner{
		sessions:        opts.Sessions,
		events:          opts.Events,
		loader:          opts.Loader,
		registry:        NewRegistry(),
		sink:            opts.Sink,
		factory:         factory,
		log:             log,
		researchAllowed: opts.AllowResearch,
	}, nil
}

// Registry exposes the live execution registry.
func (r *Runner) Registry() *Registry { return r.registry }

// CreateParams are the inputs for a new session.
type CreateParams struct {
	UserID         string
	StrategySlug   string
	Symbol         string
	Timeframe      domain.Timeframe
	StartMs        int64
	EndMs          int64
	Speed          float64
	Config         domain.SessionConfig
	IdempotencyKey string
}

// requiredBars is the minimum window length for a session config.
func requiredBars(cfg domain.SessionConfig) int {
	req := cfg.MinWarmupBars
	if req < 1 {
		req = 1
	}
	if cfg.ResearchMode {
		req += cfg.LookaheadBars
	}
	return req
}

// Create validates the requested window and inserts a CREATED session.
// No session row is written when validation fails. A repeated
// idempotency key returns the original session.
func (r *Runner) Create(ctx context.Context, p CreateParams) (*domain.SimSession, error) {
	if p.IdempotencyKey != "" {
		existing, err := r.sessions.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	if _, err := domain.ParseTimeframe(string(p.Timeframe)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, storage.ErrInvalidInput)
	}
	if p.UserID == "" || p.Symbol == "" {
		return nil, fmt.Errorf("session: user_id and symbol are required: %w", storage.ErrInvalidInput)
	}
	if p.StartMs >= p.EndMs {
		return nil, fmt.Errorf("session: start %d not before end %d: %w", p.StartMs, p.EndMs, storage.ErrInvalidInput)
	}
	if _, err := r.factory(p.StrategySlug, p.Config); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", p.StrategySlug, err)
	}

	window, err := r.loader.Load(ctx, p.Symbol, p.Timeframe, p.StartMs, p.EndMs)
	if err != nil {
		return nil, err
	}
	if len(window.Candles) < requiredBars(p.Config) {
		return nil, fmt.Errorf("have %d bars, need %d: %w", len(window.Candles), requiredBars(p.Config), ErrWindowTooSmall)
	}
	if len(window.Gaps) > 0 {
		r.log.Warn("candle window has gaps",
			zap.String("symbol", p.Symbol),
			zap.String("timeframe", string(p.Timeframe)),
			zap.Int("gaps", len(window.Gaps)))
	}

	now := time.Now().UnixMilli()
	sess := &domain.SimSession{
		SessionID:      id.New(),
		UserID:         p.UserID,
		StrategySlug:   p.StrategySlug,
		Symbol:         p.Symbol,
		Timeframe:      p.Timeframe,
		Status:         domain.SessionCreated,
		StartMs:        p.StartMs,
		EndMs:          p.EndMs,
		Speed:          p.Speed,
		BarIndex:       -1,
		LastSeq:        0,
		Config:         p.Config,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.sessions.Insert(ctx, sess); err != nil {
		// A concurrent create with the same key may have won the race.
		if errors.Is(err, storage.ErrDuplicateKey) && p.IdempotencyKey != "" {
			return r.sessions.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return sess, nil
}

// Start begins or resumes execution. CREATED sessions run from the
// first bar; PAUSED sessions restore the persisted strategy state and
// continue at the next unprocessed bar.
func (r *Runner) Start(ctx context.Context, sessionID string) error {
	sess, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status.IsTerminal() {
		return ErrTerminal
	}
	if sess.Status != domain.SessionCreated && sess.Status != domain.SessionPaused {
		return ErrNotStartable
	}

	exec, err := r.registry.acquire(sessionID)
	if err != nil {
		return err
	}

	engine, err := r.factory(sess.StrategySlug, sess.Config)
	if err != nil {
		r.registry.release(exec)
		return fmt.Errorf("strategy %q: %w", sess.StrategySlug, err)
	}
	if sess.Status == domain.SessionPaused && len(sess.StateBlob) > 0 {
		if err := engine.SetState(sess.StateBlob); err != nil {
			r.registry.release(exec)
			return fmt.Errorf("restore strategy state: %w", err)
		}
	}

	window, err := r.loader.Load(ctx, sess.Symbol, sess.Timeframe, sess.StartMs, sess.EndMs)
	if err != nil {
		r.registry.release(exec)
		return err
	}
	if len(window.Candles) < requiredBars(sess.Config) {
		r.registry.release(exec)
		return fmt.Errorf("have %d bars, need %d: %w", len(window.Candles), requiredBars(sess.Config), ErrWindowTooSmall)
	}

	if err := r.sessions.UpdateStatus(ctx, sessionID, domain.SessionRunning, ""); err != nil {
		r.registry.release(exec)
		return fmt.Errorf("mark running: %w", err)
	}

	observability.RecordSessionStarted(sess.StrategySlug)
	r.log.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("strategy", sess.StrategySlug),
		zap.Int("resume_bar", sess.BarIndex+1))

	go r.run(exec, sess, engine, window.Candles)

	return nil
}

// Pause asks a live execution to snapshot and park. Pausing an already
// paused session is a no-op.
func (r *Runner) Pause(ctx context.Context, sessionID string) error {
	if exec, live := r.registry.get(sessionID); live {
		exec.request(intentPause)
		select {
		case <-exec.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status == domain.SessionPaused {
		return nil
	}
	if sess.Status.IsTerminal() {
		return ErrTerminal
	}
	return ErrNotRunning
}

// Stop terminates a session. A live execution snapshots and exits; a
// parked CREATED or PAUSED session is stopped in place. Stopping an
// already stopped session is a no-op.
func (r *Runner) Stop(ctx context.Context, sessionID string) error {
	if exec, live := r.registry.get(sessionID); live {
		exec.request(intentStop)
		select {
		case <-exec.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status == domain.SessionStopped {
		return nil
	}
	if sess.Status.IsTerminal() {
		return ErrTerminal
	}

	if err := r.sessions.UpdateStatus(ctx, sessionID, domain.SessionStopped, ""); err != nil {
		return fmt.Errorf("mark stopped: %w", err)
	}
	r.emitDetached(ctx, sess, domain.EventTypeStatus, statusPayload(domain.SessionStopped))
	return nil
}

// RecoverOrphans demotes sessions stored as RUNNING without a live
// execution to PAUSED. Called once at boot, before the API accepts
// traffic. Returns the number of sessions recovered.
func (r *Runner) RecoverOrphans(ctx context.Context) (int, error) {
	orphans, err := r.sessions.ListByStatus(ctx, domain.SessionRunning)
	if err != nil {
		return 0, fmt.Errorf("list running sessions: %w", err)
	}

	recovered := 0
	for _, sess := range orphans {
		if _, live := r.registry.get(sess.SessionID); live {
			continue
		}
		if err := r.sessions.UpdateStatus(ctx, sess.SessionID, domain.SessionPaused, ""); err != nil {
			return recovered, fmt.Errorf("demote session %s: %w", sess.SessionID, err)
		}
		observability.RecordSessionRecovered()
		r.log.Warn("recovered orphaned session",
			zap.String("session_id", sess.SessionID),
			zap.Int("bar_index", sess.BarIndex))
		recovered++
	}
	return recovered, nil
}

// barDelay is the wall-clock pacing between bars. Speed <= 0 means run
// as fast as possible.
func barDelay(tf domain.Timeframe, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	return time.Duration(float64(tf.Duration()) / speed)
}

func statusPayload(s domain.SessionStatus) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"status": string(s)})
	return raw
}

func errorPayload(msg string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return raw
}

// emitDetached appends one event for a session without a live loop,
// keeping the seq chain intact. Best effort; failures are logged only.
func (r *Runner) emitDetached(ctx context.Context, sess *domain.SimSession, t domain.EventType, payload json.RawMessage) {
	seq := sess.LastSeq + 1
	ev := &domain.SimEvent{
		SessionID: sess.SessionID,
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
		Type:      t,
		Payload:   payload,
	}
	if err := r.events.Insert(ctx, ev); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.log.Error("emit event", zap.String("session_id", sess.SessionID), zap.Error(err))
		return
	}
	if err := r.sessions.UpdateLastSeq(ctx, sess.SessionID, seq); err != nil {
		r.log.Error("advance last_seq", zap.String("session_id", sess.SessionID), zap.Error(err))
		return
	}
	sess.LastSeq = seq
	observability.RecordEventEmitted(string(t))
	if r.sink != nil {
		r.sink.Publish(sess.SessionID, ev)
	}
}

// run is the execution loop. It is the only writer for the session
// while the registry slot is held.
func (r *Runner) run(exec *execution, sess *domain.SimSession, engine strategy.Engine, window []*domain.Candle) {
	ctx := context.Background()

	lastSeq := sess.LastSeq
	barIndex := sess.BarIndex
	delay := barDelay(sess.Timeframe, sess.Speed)
	lookahead := 0
	if sess.Config.ResearchMode && r.researchAllowed {
		lookahead = sess.Config.LookaheadBars
	}

	// emit appends one event with the next seq. A duplicate means the
	// event is already durable from a run that died before advancing the
	// watermark; the loop replays bars deterministically, so absorbing it
	// is safe.
	emit := func(t domain.EventType, ts int64, payload any) error {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", t, err)
		}
		ev := &domain.SimEvent{
			SessionID: sess.SessionID,
			Seq:       lastSeq + 1,
			Timestamp: ts,
			Type:      t,
			Payload:   raw,
		}
		if err := r.events.Insert(ctx, ev); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("insert event seq %d: %w", ev.Seq, err)
		}
		lastSeq++
		observability.RecordEventEmitted(string(t))
		if r.sink != nil {
			r.sink.Publish(sess.SessionID, ev)
		}
		return nil
	}

	// emitRetry repeats a failing append a bounded number of times. The
	// engine has already advanced when events are persisted, so the bar
	// itself is never replayed; only the write is.
	emitRetry := func(t domain.EventType, ts int64, payload any) error {
		var err error
		for attempt := 0; attempt < maxPersistFailures; attempt++ {
			if err = emit(t, ts, payload); err == nil {
				return nil
			}
			r.log.Warn("event persistence retry",
				zap.String("session_id", sess.SessionID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
		return err
	}

	snapshot := func() error {
		blob, err := engine.State()
		if err != nil {
			return fmt.Errorf("serialize strategy state: %w", err)
		}
		if err := r.sessions.UpdateSnapshot(ctx, sess.SessionID, blob, barIndex, lastSeq); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
		observability.RecordSnapshotPersisted()
		return nil
	}

	// finish snapshots, records the terminal or parked status and frees
	// the registry slot.
	finish := func(status domain.SessionStatus, errMsg string) {
		if errMsg != "" {
			if err := emit(domain.EventTypeError, time.Now().UnixMilli(), errorPayload(errMsg)); err != nil {
				r.log.Error("emit error event", zap.String("session_id", sess.SessionID), zap.Error(err))
			}
		}
		if err := emit(domain.EventTypeStatus, time.Now().UnixMilli(), statusPayload(status)); err != nil {
			r.log.Error("emit status event", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
		if err := snapshot(); err != nil {
			r.log.Error("final snapshot", zap.String("session_id", sess.SessionID), zap.Error(err))
		}
		if err := r.sessions.UpdateStatus(ctx, sess.SessionID, status, errMsg); err != nil {
			r.log.Error("record status", zap.String("session_id", sess.SessionID), zap.Error(err))
		}

		r.registry.release(exec)
		observability.RecordSessionEnded(string(status))
		r.log.Info("session ended",
			zap.String("session_id", sess.SessionID),
			zap.String("status", string(status)),
			zap.Int("bar_index", barIndex),
			zap.Int64("last_seq", lastSeq))
		close(exec.done)
	}

	if err := emit(domain.EventTypeStatus, time.Now().UnixMilli(), statusPayload(domain.SessionRunning)); err != nil {
		finish(domain.SessionFailed, err.Error())
		return
	}

	for i := barIndex + 1; i < len(window); i++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-exec.wake:
			}
		}

		switch exec.pending() {
		case intentPause:
			finish(domain.SessionPaused, "")
			return
		case intentStop:
			finish(domain.SessionStopped, "")
			return
		}

		started := time.Now()
		c := window[i]

		if err := emitRetry(domain.EventTypeCandle, c.Ts, c); err != nil {
			finish(domain.SessionFailed, err.Error())
			return
		}

		var future []*domain.Candle
		if lookahead > 0 && i+1 < len(window) {
			end := i + 1 + lookahead
			if end > len(window) {
				end = len(window)
			}
			future = window[i+1 : end]
		}

		events, err := callEngine(ctx, engine, c, future)
		if err != nil {
			finish(domain.SessionFailed, err.Error())
			return
		}

		for _, ev := range events {
			var emitErr error
			switch ev.Kind {
			case strategy.EventTrade:
				emitErr = emitRetry(domain.EventTypeTrade, c.Ts, ev.Trade)
			case strategy.EventEquity:
				emitErr = emitRetry(domain.EventTypeEquity, c.Ts, ev.Equity)
			}
			if emitErr != nil {
				finish(domain.SessionFailed, emitErr.Error())
				return
			}
		}

		barIndex = i
		if err := r.sessions.UpdateLastSeq(ctx, sess.SessionID, lastSeq); err != nil {
			// The seq chain is durable in the event store; a stale
			// watermark only causes harmless duplicate absorption on the
			// next resume.
			r.log.Warn("advance last_seq", zap.String("session_id", sess.SessionID), zap.Error(err))
		}

		if n := sess.Config.SnapshotEveryBars; n > 0 && (i+1)%n == 0 {
			if err := snapshot(); err != nil {
				r.log.Warn("periodic snapshot", zap.String("session_id", sess.SessionID), zap.Error(err))
			}
		}

		observability.RecordBarProcessed(time.Since(started).Seconds())
	}

	finish(domain.SessionFinished, "")
}

// callEngine invokes the strategy with panic containment. A panicking
// strategy fails its session, never the process.
func callEngine(ctx context.Context, engine strategy.Engine, c *domain.Candle, future []*domain.Candle) (events []*strategy.Event, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			events = nil
			err = fmt.Errorf("strategy panic: %v", rec)
		}
	}()
	return engine.OnCandle(ctx, c, future)
}
