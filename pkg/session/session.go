package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaynode/relaynode/pkg/engine"
	"github.com/relaynode/relaynode/pkg/errors"
)

// Session is the ownership grant held by one controller.
type Session struct {
	Token        uuid.UUID
	OwnerAddress string
	CreatedAt    time.Time

	done chan struct{}
}

// Done is closed once the session is superseded or disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Manager holds zero or one live session.
type Manager struct {
	mu      sync.Mutex
	current *Session
	engine  engine.Engine
}

// NewManager creates a manager that stops e whenever ownership changes hands.
func NewManager(e engine.Engine) *Manager {
	return &Manager{engine: e}
}

// Connect issues a new session to addr, invalidating any previous one.
// A displaced owner's engine is stopped before Connect returns.
func (m *Manager) Connect(addr string) *Session {
	s := &Session{
		Token:        uuid.New(),
		OwnerAddress: addr,
		CreatedAt:    time.Now(),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.current
	m.current = s
	if prev != nil {
		close(prev.done)
	}
	m.mu.Unlock()

	if prev != nil {
		slog.Warn("core control taken over",
			slog.String("owner", addr),
			slog.String("previous_owner", prev.OwnerAddress))
		engine.StopBestEffort(m.engine, "session takeover")
	} else if m.engine.Started() {
		engine.StopBestEffort(m.engine, "new session")
	}

	slog.Info("controller connected", slog.String("owner", addr), slog.String("session_id", s.Token.String()))
	return s
}

// Disconnect clears the session and stops the engine. Calling it without a
// session only stops the engine.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	if prev != nil {
		close(prev.done)
	}
	m.mu.Unlock()

	if prev != nil {
		slog.Info("controller disconnected", slog.String("owner", prev.OwnerAddress), slog.String("session_id", prev.Token.String()))
	}
	engine.StopBestEffort(m.engine, "disconnect")
}

// Match returns the live session when token is its token.
func (m *Manager) Match(token uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Token != token {
		return nil, errors.NewSessionMismatchError()
	}
	return m.current, nil
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Connected reports whether a session is live.
func (m *Manager) Connected() bool {
	return m.Current() != nil
}
