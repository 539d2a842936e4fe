// ABOUTME: Per-user conversational session state
// ABOUTME: Manager serializes event handling per user id

package session

import (
	"sync"
	"time"
)

// State is the position of a user in the conversational flow.
type State int

const (
	// StateIdle is the initial and post-logout state. The next event
	// re-derives the real state from the stored credential.
	StateIdle State = iota
	// StateAwaitingCredential waits for the user to send a credential.
	StateAwaitingCredential
	// StateAwaitingApproval waits for an admin to approve or deny the
	// user's access request. No user-side event advances it.
	StateAwaitingApproval
	// StateBrowsing is an authorized user navigating the corpus tree.
	StateBrowsing
	// StateSearching waits for a search query.
	StateSearching
	// StateSelecting waits for the user to pick a search result.
	StateSelecting
)

// Authorized reports whether the state implies a validated credential.
func (s State) Authorized() bool {
	switch s {
	case StateBrowsing, StateSearching, StateSelecting:
		return true
	}
	return false
}

// Session is the per-user conversational state. It is owned exclusively
// by the goroutine that acquired it from the Manager.
type Session struct {
	State         State
	Path          []string            // current position in the corpus tree
	SearchResults map[string][]string // label -> truncated corpus path
	PendingNumber string              // credential awaiting admin approval
	LastActiveAt  time.Time
}

// Reset returns the session to idle, dropping navigation and search
// state. The persisted credential binding is untouched.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Path = nil
	s.SearchResults = nil
	s.PendingNumber = ""
}

// Manager holds one session per user id, created lazily. Acquire gives
// exclusive access to a session, guaranteeing that two events from the
// same user are never processed concurrently. Distinct users proceed in
// parallel.
type Manager struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{entries: make(map[int64]*entry)}
}

// Acquire locks and returns the session for userID, creating it if
// needed. The returned release function must be called when event
// handling is done.
func (m *Manager) Acquire(userID int64) (*Session, func()) {
	m.mu.Lock()
	e, ok := m.entries[userID]
	if !ok {
		e = &entry{sess: &Session{}}
		m.entries[userID] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	return e.sess, e.mu.Unlock
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// SweepInactive visits every session whose LastActiveAt is older than
// timeout at now and calls fn with it under the session lock. fn may
// mutate or Reset the session. Sessions with a zero LastActiveAt are
// skipped.
func (m *Manager) SweepInactive(timeout time.Duration, now time.Time, fn func(userID int64, s *Session)) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		e, ok := m.entries[id]
		m.mu.Unlock()
		if !ok {
			continue
		}
		e.mu.Lock()
		if !e.sess.LastActiveAt.IsZero() && now.Sub(e.sess.LastActiveAt) > timeout {
			fn(id, e.sess)
		}
		e.mu.Unlock()
	}
}
