// Package session owns the in-memory conversation state of the gateway.
//
// The Store is the only component that creates, mutates or removes sessions.
// A single RWMutex guards the map and every session's fields; a per-session
// gate serializes chat turns on the same identifier without blocking other
// sessions or holding the store lock across the inference call.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	id           string
	messages     []Message
	createdAt    time.Time
	lastActivity time.Time
	// gate has capacity 1; holding a value means a turn is in flight.
	gate chan struct{}
}

func (e *entry) busy() bool {
	return len(e.gate) > 0
}

func (e *entry) snapshot() Session {
	msgs := make([]Message, len(e.messages))
	copy(msgs, e.messages)
	return Session{
		ID:             e.id,
		Messages:       msgs,
		CreatedAt:      e.createdAt,
		LastActivityAt: e.lastActivity,
	}
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithIDGenerator replaces the uuid based identifier source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		timeout:  DefaultTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Timeout() time.Duration { return s.timeout }

// Create registers a fresh session with an empty history.
func (s *Store) Create() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for {
		if _, taken := s.sessions[id]; !taken && id != "" {
			break
		}
		id = s.newID()
	}
	now := s.now()
	e := &entry{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		gate:         make(chan struct{}, 1),
	}
	s.sessions[id] = e
	return e.snapshot()
}

func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// Touch refreshes the last activity timestamp.
func (s *Store) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	e.lastActivity = s.now()
	return nil
}

// AppendTurn appends a single message. Use BeginTurn/Commit for a full
// user+assistant exchange.
func (s *Store) AppendTurn(id, role, content string) error {
	if !validRole(role) {
		return ErrInvalidRole
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	e.messages = append(e.messages, Message{Role: role, Content: content})
	e.lastActivity = s.now()
	return nil
}

// Delete removes a session and reports whether it existed. Unknown ids are a no-op.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// SweepExpired removes every session idle for longer than the timeout and
// returns how many were removed. Sessions with a turn in flight are skipped.
func (s *Store) SweepExpired(now time.Time) int {
	return len(s.SweepExpiredIDs(now))
}

// SweepExpiredIDs is SweepExpired returning the removed identifiers.
func (s *Store) SweepExpiredIDs(now time.Time) []string {
	if now.IsZero() {
		now = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, e := range s.sessions {
		if now.Sub(e.lastActivity) <= s.timeout {
			continue
		}
		if e.busy() {
			continue
		}
		delete(s.sessions, id)
		removed = append(removed, id)
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
