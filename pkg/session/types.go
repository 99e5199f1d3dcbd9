package session

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout is the inactivity window after which a sweep removes a session.
const DefaultTimeout = 1800 * time.Second

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrInvalidRole = errors.New("invalid message role")
)

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a read-only snapshot of a conversation. Values returned by the Store
// never alias the store's internal state.
type Session struct {
	ID             string    `json:"id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
