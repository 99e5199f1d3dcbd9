package gateway

import (
	"fmt"
)

const (
	MessageEmptyInput  = "Keine Nachricht angegeben"
	MessageSessionBusy = "Die vorherige Anfrage dieser Session läuft noch"
	HintCheckConfig    = "Überprüfe die Ollama-Konfiguration in den Admin-Einstellungen"
	HintRetryLater     = "Bitte versuche es in Kürze erneut"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindBackendUnavailable
	KindBackendFailed
	// KindSessionBusy means another turn held the session for longer than the turn wait.
	KindSessionBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBackendUnavailable:
		return "backend-unavailable"
	case KindBackendFailed:
		return "backend-failed"
	case KindSessionBusy:
		return "session-busy"
	default:
		return "unknown"
	}
}

// Error is what HandleTurn returns to callers. Message and Hint are meant for
// end users; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	URL     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}
