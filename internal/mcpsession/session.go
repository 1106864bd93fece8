// Package mcpsession tracks per-connection MCP session state: the
// initialize/initialized handshake flag, negotiated protocol version,
// and idle-eviction bookkeeping. One Session exists per stdio process
// (always exactly one) or per streaming-HTTP event stream (identified by
// the session_id query parameter of its submission URL).
package mcpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the per-connection state the protocol engine reads and
// mutates during Handle. Fields are accessed only through Manager, which
// serializes access with a per-session mutex.
type Session struct {
	ID          string
	Initialized bool
	ProtocolVer string
	ClientInfo  json.RawMessage

	// InitializeSeen is set the moment an "initialize" request is
	// handled, before the "initialized" notification arrives. It is
	// distinct from Initialized (set by the notification) so the engine
	// can reject a second "initialize" on the same session even if the
	// client never sent "initialized" after the first.
	InitializeSeen bool

	createdAt  time.Time
	lastActive time.Time
	mu         sync.Mutex
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, createdAt: now, lastActive: now}
}

// touch records activity, resetting the idle-eviction clock.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Manager owns the set of live sessions and evicts ones that have been
// idle past idleTimeout. The eviction invariant (idle timeout must be at
// least five minutes) is enforced by internal/config.Config.Validate,
// not here; Manager trusts whatever it's given.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	logger      *logging.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a session Manager and starts its background
// idle-eviction sweep. Call Stop to halt the sweep goroutine.
func NewManager(idleTimeout time.Duration, logger *logging.Logger) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create allocates a new session with a fresh random ID.
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	sess := newSession(id)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info(logging.WithSessionID(context.Background(), id), "session created")
	}
	return sess
}

// Get looks up a session by ID and marks it active. ok is false if the
// session does not exist (never created, or evicted for idleness).
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	sess.touch()
	return sess, true
}

// Delete removes a session, e.g. on explicit client disconnect.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions. Used by health/metrics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop halts the idle-eviction sweep goroutine. Safe to call multiple
// times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop() {
	tick := m.idleTimeout / 4
	if tick < time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.evictIdle(now)
		}
	}
}

func (m *Manager) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if sess.idleSince(now) >= m.idleTimeout {
			delete(m.sessions, id)
			if m.logger != nil {
				m.logger.Info(logging.WithSessionID(context.Background(), id), "session evicted for idleness",
					zap.Duration("idle_timeout", m.idleTimeout))
			}
		}
	}
}

// ErrSessionExists is returned by CreateWithID when the caller-supplied
// ID is already in use.
var ErrSessionExists = fmt.Errorf("mcpsession: session already exists")

// CreateWithID allocates a session under a caller-chosen ID. Used by the
// stdio transport, which has exactly one session for the process
// lifetime and prefers a stable, predictable ID over a random one.
func (m *Manager) CreateWithID(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, ErrSessionExists
	}
	sess := newSession(id)
	m.sessions[id] = sess
	return sess, nil
}
