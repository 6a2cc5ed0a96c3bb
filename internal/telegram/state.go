package telegram

import "sync"

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingPrompt
)

// Session is a point-in-time copy of one chat's conversation state.
type Session struct {
	State         SessionState
	ReferenceURLs []string
}

// StateManager owns all session records. Message handlers run concurrently,
// so every read and mutation goes through the manager's lock and callers
// only ever see copies, never the live record.
type StateManager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

// session returns the live record; the caller must hold mu.
func (m *StateManager) session(chatID int64) *Session {
	s, ok := m.sessions[chatID]
	if !ok {
		s = &Session{}
		m.sessions[chatID] = s
	}
	return s
}

// Snapshot returns a copy of the chat's session.
func (m *StateManager) Snapshot(chatID int64) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(chatID)
	return Session{
		State:         s.State,
		ReferenceURLs: append([]string(nil), s.ReferenceURLs...),
	}
}

func (m *StateManager) SetState(chatID int64, state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(chatID).State = state
}

// AppendReference stores one more reference URL, keeping only the newest
// max entries, and returns the resulting count.
func (m *StateManager) AppendReference(chatID int64, url string, max int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.session(chatID)
	s.ReferenceURLs = append(s.ReferenceURLs, url)
	if len(s.ReferenceURLs) > max {
		s.ReferenceURLs = s.ReferenceURLs[len(s.ReferenceURLs)-max:]
	}
	return len(s.ReferenceURLs)
}

func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
}

func (m *StateManager) ClearReferences(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session(chatID).ReferenceURLs = nil
}
