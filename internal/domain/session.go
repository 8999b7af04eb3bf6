package domain

// SessionStatus is the lifecycle state of a simulation session.
type SessionStatus string

// Session lifecycle states.
// CREATED → RUNNING ⇄ PAUSED → {STOPPED, FINISHED, FAILED}.
const (
	SessionCreated  SessionStatus = "CREATED"
	SessionRunning  SessionStatus = "RUNNING"
	SessionPaused   SessionStatus = "PAUSED"
	SessionStopped  SessionStatus = "STOPPED"
	SessionFinished SessionStatus = "FINISHED"
	SessionFailed   SessionStatus = "FAILED"
)

// IsTerminal reports whether the session can never run again.
// A new session must be created once a terminal state is reached.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStopped, SessionFinished, SessionFailed:
		return true
	default:
		return false
	}
}

// SessionConfig holds per-session overrides supplied at creation time.
type SessionConfig struct {
	// MinWarmupBars is the minimum number of bars the candle window must
	// contain before the strategy may produce signals.
	MinWarmupBars int `json:"min_warmup_bars"`

	// LookaheadBars bounds the future window handed to the strategy in
	// research mode. Ignored outside research mode.
	LookaheadBars int `json:"lookahead_bars"`

	// ResearchMode requests oracle-assisted execution. Future candles are
	// only ever passed when this is set AND the runner was built with the
	// environment-level research permission.
	ResearchMode bool `json:"research_mode"`

	// OracleExit is a strategy feature flag. It does NOT grant look-ahead
	// by itself.
	OracleExit bool `json:"oracle_exit"`

	// SnapshotEveryBars is the persistence cadence for strategy state.
	// Zero means snapshot only on pause/stop/finish.
	SnapshotEveryBars int `json:"snapshot_every_bars"`

	// StartingEquityMinor is the reference equity, in minor units, used
	// for percentage metrics.
	StartingEquityMinor int64 `json:"starting_equity_minor"`

	// Seed feeds the deterministic intra-bar price generator.
	Seed uint64 `json:"seed"`
}

// SimSession is a strategy simulation session record.
// Mutated only by the runner that owns it; terminal once
// STOPPED/FINISHED/FAILED.
type SimSession struct {
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	StrategySlug   string        `json:"strategy_slug"`
	Symbol         string        `json:"symbol"`
	Timeframe      Timeframe     `json:"timeframe"`
	Status         SessionStatus `json:"status"`
	StartMs        int64         `json:"start_ms"`
	EndMs          int64         `json:"end_ms"`
	Speed          float64       `json:"speed"`
	BarIndex       int           `json:"bar_index"` // last processed bar, -1 when none
	LastSeq        int64         `json:"last_seq"`  // monotonic event watermark
	StateBlob      []byte        `json:"state_blob,omitempty"`
	Config         SessionConfig `json:"config"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	ErrorMsg       string        `json:"error_msg,omitempty"`
	CreatedAt      int64         `json:"created_at"`
	UpdatedAt      int64         `json:"updated_at"`
}
