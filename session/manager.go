//go:build !windows

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmora/sandcode"
)

// Manager maintains the id -> Session mapping (spec §4.4), grounded on
// nevindra-oasis's sessionManager: a reaper goroutine that collects
// expired ids under a shared lock and tears them down outside it, so the
// reaper never blocks on a session's own turnMu.
//
// Unlike nevindra-oasis's single sync.Mutex (fine for a directory cache),
// this Manager uses sync.RWMutex — spec §4.4 explicitly calls for lookups
// to take only a shared lock while insertions take exclusive.
type Manager struct {
	catalog *sandcode.Catalog
	cfg     sandcode.RuntimeConfig
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	// MaxSessions bounds the number of concurrently live sessions. Zero
	// means unbounded (spec §9's open question on a concurrent session
	// cap is left to the operator, mirroring EngineOptions' zero-value
	// tunables in the teacher).
	MaxSessions int

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewManager creates a Manager bound to catalog. Call Start to launch the
// reaper and Close to shut everything down.
func NewManager(catalog *sandcode.Catalog, cfg sandcode.RuntimeConfig, log zerolog.Logger) *Manager {
	return &Manager{
		catalog:  catalog,
		cfg:      cfg.Resolved(),
		log:      log,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background reaper goroutine, which wakes on
// cfg.ReapInterval and calls reap until Close is called.
func (m *Manager) Start() {
	m.started = true
	go m.runReaper()
}

// Execute implements spec §4.4's execute(id, env_name, code) operation:
// look up id; if present, verify env_name matches the session's bound
// environment; if absent, create a session for env_name and insert it.
// The lookup takes only a shared lock; a miss upgrades to an exclusive
// lock to insert. The actual Session.Execute round-trip always happens
// outside the manager lock — only the session's own turnMu serializes it.
func (m *Manager) Execute(ctx context.Context, id, envName, code string) (sandcode.Result, error) {
	sess, err := m.getOrCreate(ctx, id, envName)
	if err != nil {
		return sandcode.Result{}, err
	}
	return sess.Execute(ctx, code)
}

func (m *Manager) getOrCreate(ctx context.Context, id, envName string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		if sess.EnvName != envName {
			return nil, fmt.Errorf("%w: session %q is bound to %q, not %q", sandcode.ErrSessionEnvMismatch, id, sess.EnvName, envName)
		}
		return sess, nil
	}

	env, err := m.catalog.Lookup(envName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the exclusive lock: another goroutine may have
	// created this id between our RUnlock and this Lock.
	if sess, ok := m.sessions[id]; ok {
		if sess.EnvName != envName {
			return nil, fmt.Errorf("%w: session %q is bound to %q, not %q", sandcode.ErrSessionEnvMismatch, id, sess.EnvName, envName)
		}
		return sess, nil
	}

	if m.MaxSessions > 0 && len(m.sessions) >= m.MaxSessions {
		return nil, fmt.Errorf("%w: at capacity (%d sessions)", sandcode.ErrSpawnFailed, m.MaxSessions)
	}

	sess, err = New(ctx, id, envName, env.InterpreterType, env.SessionExec, m.cfg.MaxFrameBytes, m.log)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = sess
	m.log.Info().Str("session_id", id).Str("env", envName).Msg("session created")
	return sess, nil
}

// Remove deletes id from the map under an exclusive lock, then terminates
// its child and closes its transport outside the lock (spec §4.4's
// remove(id)).
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		if err := sess.Close(); err != nil {
			m.log.Warn().Err(err).Str("session_id", id).Msg("error closing session")
		}
	}
}

// runReaper wakes on cfg.ReapInterval and calls reap until stopCh closes.
func (m *Manager) runReaper() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap()
		case <-m.stopCh:
			return
		}
	}
}

// reap collects ids whose last_used_at exceeds IdleTimeout or whose
// created_at exceeds MaxLifetime under a shared lock, then removes them
// (spec §4.4's reap). A session actively executing simply fails the age
// check on the next sweep rather than blocking the reaper on its turnMu.
func (m *Manager) reap() {
	now := time.Now()

	m.mu.RLock()
	var expired []string
	for id, sess := range m.sessions {
		if now.Sub(sess.LastUsedAt()) > m.cfg.IdleTimeout || now.Sub(sess.CreatedAt) > m.cfg.MaxLifetime {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.log.Info().Str("session_id", id).Msg("reaping expired session")
		m.Remove(id)
	}
}

// Close stops the reaper first, then removes and drops every live
// session, terminating each child (spec §4.4's shutdown ordering).
func (m *Manager) Close() {
	close(m.stopCh)
	if m.started {
		<-m.doneCh
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Remove(id)
	}
}
