package session

import (
	"fmt"
	"sync"

	"github.com/courtkit/rotation/internal/logging"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/internal/util"
	"github.com/courtkit/rotation/pkg/core"
)

// defaultHistoryDepth bounds the undo stack when the config leaves it
// unset.
const defaultHistoryDepth = 50

// Dependencies holds all dependencies for the session manager.
type Dependencies struct {
	LogManager *logging.SlogManager
}

// Config tunes the sessions the manager creates.
type Config struct {
	Engine       rules.Config
	HistoryDepth int
}

// Manager owns every live session, keyed by id.
type Manager struct {
	deps Dependencies
	cfg  Config

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(deps Dependencies, cfg Config) *Manager {
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = defaultHistoryDepth
	}
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session over the given formation. An empty id gets a
// generated one; a duplicate id is rejected.
func (m *Manager) Create(id string, f core.Formation) (*Session, error) {
	if id == "" {
		id = util.RandomID("sess")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session %q already exists", id)
	}
	s, err := newSession(id, f, m.cfg.Engine, m.cfg.HistoryDepth)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	if m.deps.LogManager != nil {
		m.deps.LogManager.WriteLog("createSession",
			fmt.Sprintf("session %s opened on formation %q", id, f.Name), "info")
	}
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close removes a session and closes its feeds.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %q not found", id)
	}
	s.Close()
	if m.deps.LogManager != nil {
		m.deps.LogManager.WriteLog("closeSession",
			fmt.Sprintf("session %s closed", id), "info")
	}
	return nil
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns the live sessions in no particular order.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// CloseAll tears down every session, closing all feeds.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
