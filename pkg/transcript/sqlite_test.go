package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_ObserveStoresCompletedTurnsOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Observe(ctx, gateway.Event{Type: gateway.EventSessionCreated, SessionID: "s1", At: at})
	s.Observe(ctx, gateway.Event{Type: gateway.EventTurnCompleted, SessionID: "s1", At: at, Model: "m", User: "u1", Assistant: "a1", Seq: 0})
	s.Observe(ctx, gateway.Event{Type: gateway.EventTurnFailed, SessionID: "s1", At: at, User: "u2", Error: "down"})
	s.Observe(ctx, gateway.Event{Type: gateway.EventTurnCompleted, SessionID: "s1", At: at.Add(time.Second), Model: "m", User: "u2", Assistant: "a2", Seq: 2})
	s.Observe(ctx, gateway.Event{Type: gateway.EventTurnCompleted, SessionID: "s2", At: at.Add(2 * time.Second), User: "x", Assistant: "y"})

	items, err := s.List(ctx, Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "u1", items[0].User)
	require.Equal(t, "a2", items[1].Assistant)
	require.Equal(t, 2, items[1].Seq)
	require.Equal(t, at.UnixMilli(), items[0].CreatedAtMs)

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "s2", all[2].SessionID)
}

func TestSQLiteStore_ListLimitAndSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, Entry{SessionID: "s", Seq: (i - 1) * 2, User: "u", Assistant: "a", CreatedAtMs: int64(i * 100)}))
	}

	latest, err := s.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, int64(400), latest[0].CreatedAtMs)
	require.Equal(t, int64(500), latest[1].CreatedAtMs)

	since, err := s.List(ctx, Query{SinceMs: 300})
	require.NoError(t, err)
	require.Len(t, since, 3)
}

func TestSQLiteStore_Validation(t *testing.T) {
	_, err := NewSQLiteStore("", zerolog.Nop())
	require.Error(t, err)
	_, err = DSNForFile(" ")
	require.Error(t, err)

	s := newTestStore(t)
	require.Error(t, s.Append(context.Background(), Entry{}))
}
