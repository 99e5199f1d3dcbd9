package gateway

import (
	"context"
	"time"
)

type EventType string

const (
	EventSessionCreated  EventType = "session-created"
	EventTurnCompleted   EventType = "turn-completed"
	EventTurnFailed      EventType = "turn-failed"
	EventSessionCleared  EventType = "session-cleared"
	EventSessionsExpired EventType = "sessions-expired"
)

// Event describes something that happened to a session. Only the fields that
// make sense for Type are set.
type Event struct {
	Type      EventType `json:"type" yaml:"type"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	At        time.Time `json:"at" yaml:"at"`

	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	User      string `json:"user,omitempty" yaml:"user,omitempty"`
	Assistant string `json:"assistant,omitempty" yaml:"assistant,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	// Position of the user message within the session history.
	Seq int `json:"seq,omitempty" yaml:"seq,omitempty"`
	// Sessions removed by a sweep.
	Expired []string `json:"expired,omitempty" yaml:"expired,omitempty"`
}

// Observer receives events after the session store has been updated. Observers
// must not block for long; their failures never affect the turn.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }
