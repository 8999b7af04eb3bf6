package session

import (
	"errors"
	"sync"
)

// Registry errors
var (
	ErrSessionActive = errors.New("session already has a live execution")
	ErrNotRunning    = errors.New("session has no live execution")
	ErrNotStartable  = errors.New("session is not in a startable state")
	ErrTerminal      = errors.New("session is in a terminal state")
	ErrWindowTooSmall = errors.New("candle window smaller than required warmup")
)

// Registry tracks live executions and guarantees at most one per
// session ID. All session mutation flows through the execution that
// holds the registry slot.
type Registry struct {
	mu     sync.Mutex
	active map[string]*execution
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*execution)}
}

// acquire reserves the slot for a session. Returns ErrSessionActive if
// another execution holds it.
func (r *Registry) acquire(sessionID string) (*execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[sessionID]; exists {
		return nil, ErrSessionActive
	}

	exec := newExecution(sessionID)
	r.active[sessionID] = exec
	return exec, nil
}

// release frees the slot if it is still held by exec.
func (r *Registry) release(exec *execution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.active[exec.sessionID]; exists && current == exec {
		delete(r.active, exec.sessionID)
	}
}

// get returns the live execution for a session, if any.
func (r *Registry) get(sessionID string) (*execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, exists := r.active[sessionID]
	return exec, exists
}

// Len returns the number of live executions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.active)
}
