// Package bolt keeps conversations in a single embedded bbolt file, one JSON
// record per conversation with its messages inlined.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/comigor/triage-go/internal/conversation"
)

var bucketConversations = []byte("conversations")

type record struct {
	Seq          uint64                     `json:"seq"`
	Conversation *conversation.Conversation `json:"conversation"`
}

type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt store: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt store: init: %w", err)
	}

	s := &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(_ context.Context) (*conversation.Conversation, error) {
	now := s.now().UTC()
	c := &conversation.Conversation{
		ID:        uuid.NewString(),
		Status:    conversation.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []conversation.Message{},
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return put(b, &record{Seq: seq, Conversation: c})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt store: create: %w", err)
	}
	return c.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	var out *conversation.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, err := get(tx.Bucket(bucketConversations), id)
		if err != nil {
			return err
		}
		out = rec.Conversation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("bolt store: invalid role %q", role)
	}
	msg := conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	err := s.update(conversationID, func(c *conversation.Conversation) error {
		c.Messages = append(c.Messages, msg)
		c.UpdatedAt = msg.CreatedAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Store) Transition(_ context.Context, id string, department conversation.Department, summary *string) error {
	if !department.Valid() {
		return fmt.Errorf("bolt store: invalid department %q", department)
	}
	return s.update(id, func(c *conversation.Conversation) error {
		if c.Status != conversation.StatusOpen {
			return conversation.NotOpen(id, c.Status)
		}
		d := department
		c.Status = conversation.StatusTransferred
		c.Department = &d
		if summary != nil {
			v := *summary
			c.Summary = &v
		}
		c.UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) List(_ context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error) {
	var recs []*record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			rec, err := decode(v)
			if err != nil {
				return err
			}
			if filter.Matches(rec.Conversation) {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt store: list: %w", err)
	}

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Conversation, recs[j].Conversation
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return recs[i].Seq > recs[j].Seq
	})
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}

	out := make([]*conversation.Conversation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Conversation)
	}
	return out, nil
}

func (s *Store) QueueSummary(ctx context.Context) ([]conversation.QueueCount, error) {
	all, err := s.List(ctx, conversation.ListFilter{})
	if err != nil {
		return nil, err
	}
	type key struct {
		department conversation.Department
		status     conversation.Status
	}
	counts := map[key]int{}
	for _, c := range all {
		k := key{status: c.Status}
		if c.Department != nil {
			k.department = *c.Department
		}
		counts[k]++
	}

	out := make([]conversation.QueueCount, 0, len(counts))
	for k, n := range counts {
		qc := conversation.QueueCount{Status: k.status, Count: n}
		if k.department != "" {
			d := k.department
			qc.Department = &d
		}
		out = append(out, qc)
	}
	return out, nil
}

// update applies fn to the stored conversation inside one write transaction.
func (s *Store) update(id string, fn func(*conversation.Conversation) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		rec, err := get(b, id)
		if err != nil {
			return err
		}
		if err := fn(rec.Conversation); err != nil {
			return err
		}
		return put(b, rec)
	})
}

func get(b *bbolt.Bucket, id string) (*record, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, conversation.NotFound(id)
	}
	rec, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("bolt store: %w", err)
	}
	return rec, nil
}

func put(b *bbolt.Bucket, rec *record) error {
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put([]byte(rec.Conversation.ID), enc)
}

func decode(v []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	if rec.Conversation == nil {
		return nil, fmt.Errorf("decode conversation: empty record")
	}
	if rec.Conversation.Messages == nil {
		rec.Conversation.Messages = []conversation.Message{}
	}
	return &rec, nil
}
