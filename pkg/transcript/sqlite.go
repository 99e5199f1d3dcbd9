// Package transcript appends completed chat turns to a SQLite file for later
// inspection. The log is write-only from the gateway's point of view: sessions
// are never restored from it.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/chatbot-gateway/pkg/gateway"
)

// Entry is one stored exchange.
type Entry struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"session_id"`
	Seq         int    `json:"seq"`
	Model       string `json:"model"`
	User        string `json:"user"`
	Assistant   string `json:"assistant"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

type Query struct {
	SessionID string
	SinceMs   int64
	Limit     int
}

type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ gateway.Observer = &SQLiteStore{}

func DSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func NewSQLiteStore(dsn string, logger zerolog.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "transcript").Logger(),
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_by_session ON turns(session_id, id);`,
		`CREATE INDEX IF NOT EXISTS turns_by_created ON turns(created_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return errors.New("transcript store: db is nil")
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return errors.New("transcript store: empty session id")
	}
	if e.CreatedAtMs == 0 {
		e.CreatedAtMs = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, model, user_text, assistant_text, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Seq, e.Model, e.User, e.Assistant, e.CreatedAtMs,
	)
	return errors.Wrap(err, "transcript store: insert")
}

// Observe stores completed turns and ignores every other event.
func (s *SQLiteStore) Observe(ctx context.Context, ev gateway.Event) {
	if ev.Type != gateway.EventTurnCompleted {
		return
	}
	err := s.Append(context.WithoutCancel(ctx), Entry{
		SessionID:   ev.SessionID,
		Seq:         ev.Seq,
		Model:       ev.Model,
		User:        ev.User,
		Assistant:   ev.Assistant,
		CreatedAtMs: ev.At.UnixMilli(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("session", ev.SessionID).Msg("failed to store turn")
	}
}

// List returns matching entries in the order they were written. Without a
// session filter it returns the most recent Limit entries.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("transcript store: db is nil")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	clauses := []string{}
	args := []any{}
	if v := strings.TrimSpace(q.SessionID); v != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, v)
	}
	if q.SinceMs > 0 {
		clauses = append(clauses, "created_at_ms >= ?")
		args = append(args, q.SinceMs)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, session_id, seq, model, user_text, assistant_text, created_at_ms
		FROM turns
		%s
		ORDER BY id DESC
		LIMIT ?`, where)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "transcript store: query")
	}
	defer func() { _ = rows.Close() }()

	var items []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &e.Model, &e.User, &e.Assistant, &e.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "transcript store: scan")
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "transcript store: rows")
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
