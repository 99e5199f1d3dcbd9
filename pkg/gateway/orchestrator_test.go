package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot-gateway/pkg/ollama"
	"github.com/go-go-golems/chatbot-gateway/pkg/session"
	"github.com/go-go-golems/chatbot-gateway/pkg/settings"
)

type staticSettings settings.Effective

func (s staticSettings) Resolve() settings.Effective { return settings.Effective(s) }

type staticPrompt string

func (p staticPrompt) Compose(settings.Effective) string { return string(p) }

type call struct {
	systemPrompt string
	history      []ollama.Message
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []call
	reply func(history []ollama.Message) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, _ settings.Effective, systemPrompt string, history []ollama.Message) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, call{systemPrompt: systemPrompt, history: append([]ollama.Message(nil), history...)})
	g.mu.Unlock()
	if g.reply == nil {
		return "Antwort", nil
	}
	return g.reply(history)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	o     *Orchestrator
	store *session.Store
	gen   *fakeGenerator
	rec   *recorder
	clock *clock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := session.NewStore(session.WithClock(c.Now))
	gen := &fakeGenerator{}
	rec := &recorder{}
	eff, _ := settings.Resolve(settings.Builtin(), settings.Layer{}, settings.Layer{})
	o := New(store, staticSettings(eff), staticPrompt("SYSTEM"), gen,
		append([]Option{
			WithLogger(zerolog.Nop()),
			WithObserver(rec),
			WithClock(c.Now),
		}, opts...)...,
	)
	return &fixture{o: o, store: store, gen: gen, rec: rec, clock: c}
}

func TestHandleTurn_NewSessionGetsUserAndAssistant(t *testing.T) {
	f := newFixture(t)

	reply, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	require.NoError(t, err)
	require.Equal(t, "Antwort", reply.Text)
	require.NotEmpty(t, reply.SessionID)

	s, err := f.store.Get(reply.SessionID)
	require.NoError(t, err)
	require.Equal(t, []session.Message{
		{Role: session.RoleUser, Content: "Hallo"},
		{Role: session.RoleAssistant, Content: "Antwort"},
	}, s.Messages)

	require.Len(t, f.gen.calls, 1)
	require.Equal(t, "SYSTEM", f.gen.calls[0].systemPrompt)
	require.Equal(t, []ollama.Message{{Role: ollama.RoleUser, Content: "Hallo"}}, f.gen.calls[0].history)
	require.Equal(t, []EventType{EventSessionCreated, EventTurnCompleted}, f.rec.types())
}

func TestHandleTurn_SequentialTurnsKeepOrder(t *testing.T) {
	f := newFixture(t)
	n := 0
	f.gen.reply = func([]ollama.Message) (string, error) {
		n++
		return []string{"a1", "a2"}[n-1], nil
	}

	first, err := f.o.HandleTurn(context.Background(), "", "u1")
	require.NoError(t, err)
	second, err := f.o.HandleTurn(context.Background(), first.SessionID, "u2")
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	s, err := f.store.Get(first.SessionID)
	require.NoError(t, err)
	require.Equal(t, []session.Message{
		{Role: session.RoleUser, Content: "u1"},
		{Role: session.RoleAssistant, Content: "a1"},
		{Role: session.RoleUser, Content: "u2"},
		{Role: session.RoleAssistant, Content: "a2"},
	}, s.Messages)

	require.Equal(t, []ollama.Message{
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "u2"},
	}, f.gen.calls[1].history)
}

func TestHandleTurn_BackendFailureLeavesHistoryEmpty(t *testing.T) {
	f := newFixture(t)
	f.gen.reply = func([]ollama.Message) (string, error) {
		return "", &ollama.Error{Kind: ollama.KindUnavailable, URL: "http://localhost:11434", Err: errors.New("connection refused")}
	}

	_, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, KindBackendUnavailable, gerr.Kind)
	require.Contains(t, gerr.Message, "http://localhost:11434")
	require.Equal(t, HintCheckConfig, gerr.Hint)

	require.Equal(t, 1, f.store.Len())
	for _, ev := range f.rec.events {
		if ev.Type == EventSessionCreated {
			s, err := f.store.Get(ev.SessionID)
			require.NoError(t, err)
			require.Empty(t, s.Messages)
		}
	}
	require.Equal(t, []EventType{EventSessionCreated, EventTurnFailed}, f.rec.types())
}

func TestHandleTurn_FailedTurnCanBeRetriedOnSameSession(t *testing.T) {
	f := newFixture(t)
	first, err := f.o.HandleTurn(context.Background(), "", "u1")
	require.NoError(t, err)

	f.gen.reply = func([]ollama.Message) (string, error) {
		return "", &ollama.Error{Kind: ollama.KindFailed, Status: 500, Err: errors.New("boom")}
	}
	_, err = f.o.HandleTurn(context.Background(), first.SessionID, "u2")
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, KindBackendFailed, gerr.Kind)

	f.gen.reply = nil
	_, err = f.o.HandleTurn(context.Background(), first.SessionID, "u2")
	require.NoError(t, err)

	s, err := f.store.Get(first.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Messages, 4)
	require.Equal(t, "u2", s.Messages[2].Content)
}

func TestHandleTurn_EmptyMessageCreatesNoSession(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := f.o.HandleTurn(context.Background(), "", text)
		var gerr *Error
		require.True(t, errors.As(err, &gerr))
		require.Equal(t, KindValidation, gerr.Kind)
		require.Equal(t, MessageEmptyInput, gerr.Message)
	}
	require.Equal(t, 0, f.store.Len())
	require.Empty(t, f.gen.calls)
	require.Empty(t, f.rec.types())
}

func TestHandleTurn_UnknownHintStartsFreshSession(t *testing.T) {
	f := newFixture(t)
	reply, err := f.o.HandleTurn(context.Background(), "does-not-exist", "Hallo")
	require.NoError(t, err)
	require.NotEqual(t, "does-not-exist", reply.SessionID)

	f.o.ClearSession(context.Background(), reply.SessionID)
	again, err := f.o.HandleTurn(context.Background(), reply.SessionID, "Hallo")
	require.NoError(t, err)
	require.NotEqual(t, reply.SessionID, again.SessionID)
}

func TestHandleTurn_SanitizesStoredAndForwardedText(t *testing.T) {
	f := newFixture(t)
	reply, err := f.o.HandleTurn(context.Background(), "", "  <b onclick=x()>hi</b> javascript:alert(1) ")
	require.NoError(t, err)

	s, err := f.store.Get(reply.SessionID)
	require.NoError(t, err)
	stored := s.Messages[0].Content
	require.NotContains(t, stored, "<")
	require.NotContains(t, stored, "onclick=")
	require.NotContains(t, stored, "javascript:")
	require.Equal(t, stored, f.gen.calls[0].history[0].Content)
}

func TestHandleTurn_CommitAfterClearStillReturnsReply(t *testing.T) {
	f := newFixture(t)
	first, err := f.o.HandleTurn(context.Background(), "", "u1")
	require.NoError(t, err)

	f.gen.reply = func([]ollama.Message) (string, error) {
		f.o.ClearSession(context.Background(), first.SessionID)
		return "spät", nil
	}
	reply, err := f.o.HandleTurn(context.Background(), first.SessionID, "u2")
	require.NoError(t, err)
	require.Equal(t, "spät", reply.Text)

	_, err = f.store.Get(first.SessionID)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestHandleTurn_SweepsExpiredSessionsAfterSuccess(t *testing.T) {
	f := newFixture(t)
	stale, err := f.o.HandleTurn(context.Background(), "", "alt")
	require.NoError(t, err)

	f.clock.Advance(session.DefaultTimeout + time.Second)
	fresh, err := f.o.HandleTurn(context.Background(), "", "neu")
	require.NoError(t, err)

	_, err = f.store.Get(stale.SessionID)
	require.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.store.Get(fresh.SessionID)
	require.NoError(t, err)
	require.Contains(t, f.rec.types(), EventSessionsExpired)
}

func TestClearSession(t *testing.T) {
	f := newFixture(t)
	require.False(t, f.o.ClearSession(context.Background(), ""))
	require.False(t, f.o.ClearSession(context.Background(), "unknown"))

	reply, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	require.NoError(t, err)
	require.True(t, f.o.ClearSession(context.Background(), reply.SessionID))
	require.False(t, f.o.ClearSession(context.Background(), reply.SessionID))
	require.Equal(t, 0, f.store.Len())
}

func TestHandleTurn_ConcurrentTurnsOnOneSessionAreSerialized(t *testing.T) {
	f := newFixture(t)
	first, err := f.o.HandleTurn(context.Background(), "", "start")
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.o.HandleTurn(context.Background(), first.SessionID, "parallel")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := f.store.Get(first.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Messages, 2*(n+1))
	for i, m := range s.Messages {
		if i%2 == 0 {
			require.Equal(t, session.RoleUser, m.Role)
		} else {
			require.Equal(t, session.RoleAssistant, m.Role)
		}
	}
}

func TestStartSweepLoop(t *testing.T) {
	f := newFixture(t)
	_, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	require.NoError(t, err)
	f.clock.Advance(session.DefaultTimeout + time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.o.StartSweepLoop(ctx, 10*time.Millisecond)
	f.o.StartSweepLoop(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool { return f.store.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleTurn_ObserversRunAfterSessionIsReleased(t *testing.T) {
	gateErr := errors.New("turn-completed not observed")
	var f *fixture
	f = newFixture(t, WithObserver(ObserverFunc(func(ctx context.Context, ev Event) {
		if ev.Type != EventTurnCompleted {
			return
		}
		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		turn, err := f.store.BeginTurn(waitCtx, ev.SessionID)
		if err == nil {
			turn.Release()
		}
		gateErr = err
	})))

	_, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	require.NoError(t, err)
	require.NoError(t, gateErr)
}

func TestHandleTurn_BusySessionGivesUpAfterTurnWait(t *testing.T) {
	f := newFixture(t, WithTurnWait(20*time.Millisecond))
	first, err := f.o.HandleTurn(context.Background(), "", "Hallo")
	require.NoError(t, err)

	held, err := f.store.BeginTurn(context.Background(), first.SessionID)
	require.NoError(t, err)
	defer held.Release()

	started := time.Now()
	_, err = f.o.HandleTurn(context.Background(), first.SessionID, "Noch da?")
	require.Less(t, time.Since(started), time.Second)

	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	require.Equal(t, KindSessionBusy, gerr.Kind)
	require.Equal(t, MessageSessionBusy, gerr.Message)
	require.Equal(t, HintRetryLater, gerr.Hint)

	require.Len(t, f.gen.calls, 1)
	s, err := f.store.Get(first.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Messages, 2)
}
