// Package postgres stores conversations in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/comigor/triage-go/internal/apperr"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

const connectAttempts = 10

type Store struct {
	pool         *pgxpool.Pool
	now          func() time.Time
	connectDelay time.Duration
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithConnectDelay sets the pause between connection attempts.
func WithConnectDelay(d time.Duration) Option {
	return func(s *Store) { s.connectDelay = d }
}

// Open connects to dsn, retrying while the server is not yet reachable,
// and applies pending migrations.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	s := &Store{
		now:          func() time.Time { return time.Now().UTC() },
		connectDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	log := logger.WithComponent("postgres")
	attempt := 0
	backoff := retry.WithMaxRetries(connectAttempts-1, retry.NewConstant(s.connectDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			log.Warn("connect failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			log.Warn("ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		s.pool = pool
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect after %d attempts: %w", attempt, err)
	}
	log.Info("database connected", "attempt", attempt)

	if err := s.migrate(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("postgres store: migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("postgres store: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	if len(results) > 0 {
		logger.L.Info("postgres schema migrated", "applied", len(results))
	}
	return nil
}

// Pool exposes the underlying pool for tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Create(ctx context.Context) (*conversation.Conversation, error) {
	now := s.now().UTC()
	c := &conversation.Conversation{
		ID:        uuid.NewString(),
		Status:    conversation.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []conversation.Message{},
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, c.ID, string(c.Status), now)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create: %w", err)
	}
	return c, nil
}

func (s *Store) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, department, summary, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, conversation.NotFound(id)
		}
		return nil, fmt.Errorf("postgres store: get: %w", err)
	}
	if c.Messages, err = s.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("postgres store: invalid role %q", role)
	}
	msg := &conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = $1 WHERE id = $2`, msg.CreatedAt, conversationID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return conversation.NotFound(conversationID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, msg.ID, conversationID, string(role), content, msg.CreatedAt)
		return err
	})
	if err != nil {
		if apperr.GetAppError(err) != nil {
			return nil, err
		}
		return nil, fmt.Errorf("postgres store: append: %w", err)
	}
	return msg, nil
}

func (s *Store) Transition(ctx context.Context, id string, department conversation.Department, summary *string) error {
	if !department.Valid() {
		return fmt.Errorf("postgres store: invalid department %q", department)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET status = $1, department = $2, summary = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`, string(conversation.StatusTransferred), string(department), summary, s.now().UTC(),
		id, string(conversation.StatusOpen))
	if err != nil {
		return fmt.Errorf("postgres store: transition: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM conversations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("postgres store: transition: %w", err)
	}
	return conversation.NotOpen(id, conversation.Status(status))
}

func (s *Store) List(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Department != nil {
		args = append(args, string(*filter.Department))
		where = append(where, "department = $"+strconv.Itoa(len(args)))
	}

	query := "SELECT id, status, department, summary, created_at, updated_at FROM conversations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	out := []*conversation.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres store: list scan: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}

	for _, c := range out {
		if c.Messages, err = s.loadMessages(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) QueueSummary(ctx context.Context) ([]conversation.QueueCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT department, status, COUNT(*) FROM conversations
		GROUP BY department, status
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: queue summary: %w", err)
	}
	defer rows.Close()

	var out []conversation.QueueCount
	for rows.Next() {
		var (
			dept   *string
			status string
			count  int64
		)
		if err := rows.Scan(&dept, &status, &count); err != nil {
			return nil, fmt.Errorf("postgres store: queue summary scan: %w", err)
		}
		qc := conversation.QueueCount{Count: int(count)}
		if qc.Status, err = conversation.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("postgres store: queue summary: %w", err)
		}
		if dept != nil {
			d, err := conversation.ParseDepartment(*dept)
			if err != nil {
				return nil, fmt.Errorf("postgres store: queue summary: %w", err)
			}
			qc.Department = &d
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

func (s *Store) loadMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: messages: %w", err)
	}
	defer rows.Close()

	msgs := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: messages scan: %w", err)
		}
		if m.Role, err = conversation.ParseRole(role); err != nil {
			return nil, fmt.Errorf("postgres store: messages: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var (
		c             conversation.Conversation
		status        string
		dept, summary *string
	)
	if err := row.Scan(&c.ID, &status, &dept, &summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Status, err = conversation.ParseStatus(status); err != nil {
		return nil, err
	}
	if dept != nil {
		d, err := conversation.ParseDepartment(*dept)
		if err != nil {
			return nil, err
		}
		c.Department = &d
	}
	c.Summary = summary
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.Messages = []conversation.Message{}
	return &c, nil
}
