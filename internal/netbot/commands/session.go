package commands

import "sync"

// SessionStore remembers which device transport each user selected. It lives
// for the process lifetime; a restart forces users to select again.
type SessionStore struct {
	mu       sync.RWMutex
	selected map[string]Transport
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{selected: make(map[string]Transport)}
}

// Get returns the transport selected by userID, if any.
func (s *SessionStore) Get(userID string) (Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.selected[userID]
	return t, ok && t != TransportNone
}

// Set records (or overwrites) the selection for userID.
func (s *SessionStore) Set(userID string, t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected[userID] = t
}

// Len returns the number of users with a selection.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selected)
}

// keyedMutex serialises work per key. Entries are never removed; the key
// space is bounded by owner × allowed device addresses.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
