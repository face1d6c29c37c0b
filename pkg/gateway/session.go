package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/pkg/mcp"
)

// maxSessions is the maximum number of concurrent sessions before eviction.
const maxSessions = 1000

// Session represents one connected MCP client.
type Session struct {
	ID         string
	ClientInfo mcp.ClientInfo
	CreatedAt  time.Time
	LastSeen   time.Time
}

// SessionManager tracks client sessions by id.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session. If the session count exceeds maxSessions, the
// session idle the longest is evicted.
func (m *SessionManager) Create(clientInfo mcp.ClientInfo) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= maxSessions {
		m.evictOldest()
	}

	session := &Session{
		ID:         uuid.NewString(),
		ClientInfo: clientInfo,
		CreatedAt:  time.Now(),
		LastSeen:   time.Now(),
	}
	m.sessions[session.ID] = session
	return session
}

// evictOldest removes the session with the oldest LastSeen time.
// Must be called with m.mu held.
func (m *SessionManager) evictOldest() {
	var oldestID string
	var oldestTime time.Time
	for id, s := range m.sessions {
		if oldestID == "" || s.LastSeen.Before(oldestTime) {
			oldestID = id
			oldestTime = s.LastSeen
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
	}
}

// Get retrieves a session by id, or nil.
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Touch updates the last seen time for a session.
func (m *SessionManager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastSeen = time.Now()
	}
}

// Delete removes a session.
func (m *SessionManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes sessions idle longer than maxAge and reports how many.
func (m *SessionManager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, s := range m.sessions {
		if s.LastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
