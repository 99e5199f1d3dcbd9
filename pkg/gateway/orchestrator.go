// Package gateway runs chat turns: it resolves the session, composes the system
// prompt, calls the inference backend and records the exchange.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot-gateway/pkg/ollama"
	"github.com/go-go-golems/chatbot-gateway/pkg/prompt"
	"github.com/go-go-golems/chatbot-gateway/pkg/sanitize"
	"github.com/go-go-golems/chatbot-gateway/pkg/session"
	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

// Generator produces an assistant reply for a system prompt and a conversation.
type Generator interface {
	Generate(ctx context.Context, eff settings.Effective, systemPrompt string, history []ollama.Message) (string, error)
}

type SettingsResolver interface {
	Resolve() settings.Effective
}

type PromptComposer interface {
	Compose(eff settings.Effective) string
}

// DefaultTurnWait matches the backend timeout, so a queued turn waits at most
// for one backend call.
const DefaultTurnWait = ollama.GenerateTimeout

type Reply struct {
	Text      string `json:"response"`
	SessionID string `json:"session_id"`
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "gateway").Logger() }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTurnWait bounds how long a turn waits for a previous turn on the same
// session to finish.
func WithTurnWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.turnWait = d
		}
	}
}

type Orchestrator struct {
	store     *session.Store
	settings  SettingsResolver
	prompts   PromptComposer
	generator Generator
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
	turnWait  time.Duration

	sweepMu      sync.Mutex
	sweepRunning bool
}

func New(store *session.Store, resolver SettingsResolver, prompts PromptComposer, gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		settings:  resolver,
		prompts:   prompts,
		generator: gen,
		logger:    log.With().Str("component", "gateway").Logger(),
		now:       time.Now,
		turnWait:  DefaultTurnWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Store() *session.Store { return o.store }

// Settings returns the effective settings as of now.
func (o *Orchestrator) Settings() settings.Effective { return o.settings.Resolve() }

// HandleTurn runs one exchange. An unknown or empty hint starts a new session.
// The user message and the reply are stored together after the backend answered,
// so a failed call leaves the history untouched.
func (o *Orchestrator) HandleTurn(ctx context.Context, hint, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, validationError(MessageEmptyInput)
	}
	userText := sanitize.Text(text)

	turn, err := o.beginTurn(ctx, hint)
	if err != nil {
		return Reply{}, err
	}
	defer turn.Release()

	eff := o.settings.Resolve()
	systemPrompt := o.prompts.Compose(eff)

	history := make([]ollama.Message, 0, len(turn.History)+1)
	for _, m := range turn.History {
		history = append(history, ollama.Message{Role: m.Role, Content: m.Content})
	}
	history = append(history, ollama.Message{Role: ollama.RoleUser, Content: userText})

	if ev := o.logger.Debug(); ev.Enabled() {
		if n, err := prompt.CountTokens(systemPrompt); err == nil {
			ev = ev.Int("prompt_tokens", n)
		}
		ev.Str("session", short(turn.ID)).
			Str("model", eff.Model).
			Int("history", len(history)).
			Msg("calling backend")
	}

	started := o.now()
	reply, err := o.generator.Generate(ctx, eff, systemPrompt, history)
	if err != nil {
		gerr := backendError(eff.BackendURL, err)
		o.logger.Error().Err(err).
			Str("session", short(turn.ID)).
			Str("ollama_url", eff.BackendURL).
			Str("kind", gerr.Kind.String()).
			Msg("backend call failed")
		turn.Release()
		o.emit(ctx, Event{
			Type:      EventTurnFailed,
			SessionID: turn.ID,
			Model:     eff.Model,
			User:      userText,
			Error:     gerr.Message,
			ErrorKind: gerr.Kind.String(),
		})
		return Reply{}, gerr
	}

	commitErr := turn.Commit(userText, reply)
	turn.Release()

	// observers run after the gate is released
	if commitErr != nil {
		// cleared or expired while the backend was working; the caller still gets the reply
		o.logger.Warn().Err(commitErr).Str("session", short(turn.ID)).Msg("session gone before reply was stored")
	} else {
		o.emit(ctx, Event{
			Type:      EventTurnCompleted,
			SessionID: turn.ID,
			Model:     eff.Model,
			User:      userText,
			Assistant: reply,
			Seq:       len(turn.History),
		})
	}

	o.logger.Debug().
		Str("session", short(turn.ID)).
		Dur("took", o.now().Sub(started)).
		Msg("turn completed")

	o.Sweep(o.now())

	return Reply{Text: reply, SessionID: turn.ID}, nil
}

func (o *Orchestrator) beginTurn(ctx context.Context, hint string) (*session.Turn, error) {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		waitCtx, cancel := context.WithTimeout(ctx, o.turnWait)
		turn, err := o.store.BeginTurn(waitCtx, hint)
		cancel()
		if err == nil {
			return turn, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			o.logger.Warn().Err(err).Str("session", short(hint)).Dur("waited", o.turnWait).Msg("previous turn still running")
			return nil, &Error{Kind: KindSessionBusy, Message: MessageSessionBusy, Hint: HintRetryLater, Err: err}
		}
	}

	s := o.store.Create()
	o.logger.Info().Str("session", short(s.ID)).Msg("session created")
	o.emit(ctx, Event{Type: EventSessionCreated, SessionID: s.ID})

	turn, err := o.store.BeginTurn(ctx, s.ID)
	if err != nil {
		return nil, &Error{Kind: KindBackendFailed, Message: "Session konnte nicht geöffnet werden", Hint: HintCheckConfig, Err: err}
	}
	return turn, nil
}

// ClearSession deletes a session. Unknown ids are not an error; the result only
// reports whether something was removed.
func (o *Orchestrator) ClearSession(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || !o.store.Delete(id) {
		return false
	}
	o.logger.Info().Str("session", short(id)).Msg("session cleared")
	o.emit(ctx, Event{Type: EventSessionCleared, SessionID: id})
	return true
}

// Sweep removes sessions idle for longer than the store timeout.
func (o *Orchestrator) Sweep(now time.Time) int {
	ids := o.store.SweepExpiredIDs(now)
	if len(ids) == 0 {
		return 0
	}
	o.logger.Info().Int("count", len(ids)).Msg("expired sessions removed")
	o.emit(context.Background(), Event{Type: EventSessionsExpired, Expired: ids})
	return len(ids)
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if len(o.observers) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	for _, obs := range o.observers {
		obs.Observe(ctx, ev)
	}
}

func backendError(url string, err error) *Error {
	var oe *ollama.Error
	if errors.As(err, &oe) && oe.Kind == ollama.KindUnavailable {
		return &Error{
			Kind:    KindBackendUnavailable,
			Message: fmt.Sprintf("Ollama nicht erreichbar. Ist Ollama gestartet? (%s)", url),
			Hint:    HintCheckConfig,
			URL:     url,
			Err:     err,
		}
	}
	return &Error{
		Kind:    KindBackendFailed,
		Message: fmt.Sprintf("Ollama Fehler: %v", err),
		Hint:    HintCheckConfig,
		URL:     url,
		Err:     err,
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
