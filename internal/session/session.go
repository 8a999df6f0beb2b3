// Package session keeps a bounded conversation history per session id.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultMaxHistory = 2

type message struct {
	role    string
	content string
}

// Manager stores recent exchanges in memory. It is safe for concurrent use.
type Manager struct {
	maxHistory int

	mu       sync.Mutex
	sessions map[string][]message
}

// NewManager creates a Manager keeping at most maxHistory exchanges (one
// user message plus one assistant message each) per session.
func NewManager(maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	return &Manager{maxHistory: maxHistory, sessions: make(map[string][]message)}
}

// CreateSession registers a new empty session and returns its id.
func (m *Manager) CreateSession() string {
	id := uuid.New().String()
	m.mu.Lock()
	m.sessions[id] = nil
	m.mu.Unlock()
	return id
}

// AddExchange records a question and its answer, dropping the oldest
// messages beyond the limit. Unknown ids start a new session.
func (m *Manager) AddExchange(id, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append(m.sessions[id],
		message{role: "User", content: question},
		message{role: "Assistant", content: answer},
	)
	if limit := m.maxHistory * 2; len(msgs) > limit {
		msgs = append([]message(nil), msgs[len(msgs)-limit:]...)
	}
	m.sessions[id] = msgs
}

// History returns the session's messages formatted one per line as
// "User: ..." and "Assistant: ...". ok is false when the session is unknown
// or has no messages yet.
func (m *Manager) History(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.sessions[id]
	if len(msgs) == 0 {
		return "", false
	}
	lines := make([]string, len(msgs))
	for i, msg := range msgs {
		lines[i] = msg.role + ": " + msg.content
	}
	return strings.Join(lines, "\n"), true
}

// Clear forgets a session's messages.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		m.sessions[id] = nil
	}
}
