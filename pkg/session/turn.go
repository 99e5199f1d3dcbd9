package session

import (
	"context"
	"sync"
)

// Turn is an exclusive, in-flight exchange on one session. While a Turn is open
// no other turn on the same session can begin; the store lock itself is not held.
type Turn struct {
	store *Store
	e     *entry

	ID string
	// History is the conversation as it was when the turn began.
	History []Message

	release sync.Once
}

// BeginTurn waits for exclusive use of the session, refreshes its activity
// timestamp and snapshots its history. The returned Turn must be released.
func (s *Store) BeginTurn(ctx context.Context, id string) (*Turn, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	if current, ok := s.sessions[id]; !ok || current != e {
		s.mu.Unlock()
		<-e.gate
		return nil, ErrNotFound
	}
	e.lastActivity = s.now()
	snap := e.snapshot()
	s.mu.Unlock()

	return &Turn{store: s, e: e, ID: id, History: snap.Messages}, nil
}

// Commit appends the user message and the assistant reply in one step.
// It fails with ErrNotFound when the session was removed while the turn was open.
func (t *Turn) Commit(user, assistant string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.sessions[t.ID]; !ok || current != t.e {
		return ErrNotFound
	}
	t.e.messages = append(t.e.messages,
		Message{Role: RoleUser, Content: user},
		Message{Role: RoleAssistant, Content: assistant},
	)
	t.e.lastActivity = s.now()
	return nil
}

// Release ends the turn. It is safe to call more than once.
func (t *Turn) Release() {
	t.release.Do(func() {
		<-t.e.gate
	})
}
