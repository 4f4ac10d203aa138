package net

// SessionStore holds the sessions the game loop currently owns.
// Accessed only from the game loop goroutine, no locks.
type SessionStore struct {
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

func (s *SessionStore) Add(sess *Session) {
	s.sessions[sess.ID] = sess
}

func (s *SessionStore) Remove(id string) {
	delete(s.sessions, id)
}

func (s *SessionStore) Get(id string) *Session {
	return s.sessions[id]
}

func (s *SessionStore) ForEach(fn func(*Session)) {
	for _, sess := range s.sessions {
		fn(sess)
	}
}

func (s *SessionStore) Len() int {
	return len(s.sessions)
}
