package history

import (
	"sync"

	"mr-assistant/internal/llm"
)

// Manager keeps the per-user conversation in process memory. It is never
// persisted; the durable record is the session log.
type Manager struct {
	mu           sync.RWMutex
	systemPrompt string
	sessions     map[string][]llm.Message
}

func NewManager(systemPrompt string) *Manager {
	return &Manager{systemPrompt: systemPrompt, sessions: make(map[string][]llm.Message)}
}

func (m *Manager) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// AddExchange appends the user message and the assistant reply, in that order.
func (m *Manager) AddExchange(userID, userText, assistantText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = append(m.sessions[userID],
		llm.Message{Role: llm.RoleUser, Content: userText},
		llm.Message{Role: llm.RoleAssistant, Content: assistantText},
	)
}

// Get returns the system message followed by a copy of the user's messages.
func (m *Manager) Get(userID string) []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.sessions[userID]
	out := make([]llm.Message, 0, len(es)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.systemPrompt})
	return append(out, es...)
}

// Len returns the number of stored messages, system message excluded.
func (m *Manager) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions[userID])
}
