// Package memory is a process-local conversation store. Nothing survives a
// restart; it backs tests and the interactive chat command.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/triage-go/internal/conversation"
)

// Store keeps conversations in maps guarded by a single mutex.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation.Conversation
	order         []string
	now           func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*conversation.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(_ context.Context) (*conversation.Conversation, error) {
	now := s.now()
	c := &conversation.Conversation{
		ID:        uuid.NewString(),
		Status:    conversation.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []conversation.Message{},
	}

	s.mu.Lock()
	s.conversations[c.ID] = c
	s.order = append(s.order, c.ID)
	s.mu.Unlock()

	return c.Clone(), nil
}

func (s *Store) Get(_ context.Context, id string) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, conversation.NotFound(id)
	}
	return c.Clone(), nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("memory store: invalid role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, conversation.NotFound(conversationID)
	}
	msg := conversation.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return &msg, nil
}

func (s *Store) Transition(_ context.Context, id string, department conversation.Department, summary *string) error {
	if !department.Valid() {
		return fmt.Errorf("memory store: invalid department %q", department)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return conversation.NotFound(id)
	}
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
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) List(_ context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*conversation.Conversation, 0, len(s.order))
	// newest insertion first so equal timestamps keep reverse insertion order
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.conversations[s.order[i]]
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) QueueSummary(_ context.Context) ([]conversation.QueueCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		department conversation.Department
		status     conversation.Status
	}
	counts := map[key]int{}
	var keys []key
	for _, id := range s.order {
		c := s.conversations[id]
		k := key{status: c.Status}
		if c.Department != nil {
			k.department = *c.Department
		}
		if _, seen := counts[k]; !seen {
			keys = append(keys, k)
		}
		counts[k]++
	}

	out := make([]conversation.QueueCount, 0, len(keys))
	for _, k := range keys {
		qc := conversation.QueueCount{Status: k.status, Count: counts[k]}
		if k.department != "" {
			d := k.department
			qc.Department = &d
		}
		out = append(out, qc)
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
