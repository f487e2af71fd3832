// Package sqlite provides SQLite-based persistence for conversations and
// their messages. The schema is managed by embedded goose migrations that
// run when the store is opened.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Fixed-width so that text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements conversation.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// one writer at a time; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite store: migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("sqlite store: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	if len(results) > 0 {
		logger.L.Info("sqlite schema migrated", "applied", len(results))
	}
	return nil
}

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context) (*conversation.Conversation, error) {
	now := s.now().UTC()
	c := &conversation.Conversation{
		ID:        uuid.NewString(),
		Status:    conversation.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []conversation.Message{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, string(c.Status), formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: create: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, department, summary, created_at, updated_at FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conversation.NotFound(id)
		}
		return nil, fmt.Errorf("sqlite store: get: %w", err)
	}

	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("sqlite store: invalid role %q", role)
	}
	msg := &conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(msg.CreatedAt), conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: append: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, conversation.NotFound(conversationID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(role), content, formatTime(msg.CreatedAt)); err != nil {
		return nil, fmt.Errorf("sqlite store: append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite store: append: %w", err)
	}
	return msg, nil
}

func (s *Store) Transition(ctx context.Context, id string, department conversation.Department, summary *string) error {
	if !department.Valid() {
		return fmt.Errorf("sqlite store: invalid department %q", department)
	}
	var summaryArg any
	if summary != nil {
		summaryArg = *summary
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, department = ?, summary = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(conversation.StatusTransferred), string(department), summaryArg, formatTime(s.now().UTC()),
		id, string(conversation.StatusOpen))
	if err != nil {
		return fmt.Errorf("sqlite store: transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM conversations WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: transition: %w", err)
	}
	return conversation.NotOpen(id, conversation.Status(status))
}

func (s *Store) List(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error) {
	query := "SELECT id, status, department, summary, created_at, updated_at FROM conversations WHERE 1=1"
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Department != nil {
		query += " AND department = ?"
		args = append(args, string(*filter.Department))
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	out := []*conversation.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite store: list scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	// release the only connection before loading messages
	rows.Close()

	for _, c := range out {
		if c.Messages, err = s.loadMessages(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) QueueSummary(ctx context.Context) ([]conversation.QueueCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT department, status, COUNT(*) FROM conversations GROUP BY department, status`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: queue summary: %w", err)
	}
	defer rows.Close()

	var out []conversation.QueueCount
	for rows.Next() {
		var dept sql.NullString
		var status string
		var qc conversation.QueueCount
		if err := rows.Scan(&dept, &status, &qc.Count); err != nil {
			return nil, fmt.Errorf("sqlite store: queue summary scan: %w", err)
		}
		if qc.Status, err = conversation.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("sqlite store: queue summary: %w", err)
		}
		if dept.Valid {
			d, err := conversation.ParseDepartment(dept.String)
			if err != nil {
				return nil, fmt.Errorf("sqlite store: queue summary: %w", err)
			}
			qc.Department = &d
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

func (s *Store) loadMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: messages: %w", err)
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite store: messages scan: %w", err)
		}
		if m.Role, err = conversation.ParseRole(role); err != nil {
			return nil, fmt.Errorf("sqlite store: messages: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite store: messages: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*conversation.Conversation, error) {
	var (
		c                    conversation.Conversation
		status               string
		dept, summary        sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&c.ID, &status, &dept, &summary, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.Status, err = conversation.ParseStatus(status); err != nil {
		return nil, err
	}
	if dept.Valid {
		d, err := conversation.ParseDepartment(dept.String)
		if err != nil {
			return nil, err
		}
		c.Department = &d
	}
	if summary.Valid {
		v := summary.String
		c.Summary = &v
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	c.Messages = []conversation.Message{}
	return &c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}
