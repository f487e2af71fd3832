package conversation

import (
	"context"

	"github.com/comigor/triage-go/internal/apperr"
)

// Store is the persistence contract for conversations and their messages.
type Store interface {
	// Create inserts a new OPEN conversation with no messages.
	Create(ctx context.Context) (*Conversation, error)
	// Get returns a conversation with its messages in chronological order.
	Get(ctx context.Context, id string) (*Conversation, error)
	// AppendMessage stores a message and bumps the conversation's UpdatedAt.
	AppendMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error)
	// Transition moves an OPEN conversation to TRANSFERRED, recording the
	// department and summary. It fails with a conflict error when the
	// conversation is no longer OPEN.
	Transition(ctx context.Context, id string, department Department, summary *string) error
	// List returns conversations most-recent-first.
	List(ctx context.Context, filter ListFilter) ([]*Conversation, error)
	// QueueSummary counts conversations by department and status.
	QueueSummary(ctx context.Context) ([]QueueCount, error)
	Close() error
}

// ListFilter constrains List. Nil fields match everything; Limit 0 means no limit.
type ListFilter struct {
	Status     *Status
	Department *Department
	Limit      int
}

// Matches reports whether c passes the filter.
func (f ListFilter) Matches(c *Conversation) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.Department != nil && (c.Department == nil || *c.Department != *f.Department) {
		return false
	}
	return true
}

// QueueCount is one department × status bucket. Department is nil for
// conversations that were never transferred.
type QueueCount struct {
	Department *Department
	Status     Status
	Count      int
}

// NotFound builds the error stores return for an unknown conversation id.
func NotFound(id string) error {
	return apperr.NewNotFoundError("conversation not found", id)
}

// NotOpen builds the error Transition returns for a conversation that is no longer OPEN.
func NotOpen(id string, status Status) error {
	return apperr.NewConflictError("conversation is not open", id+" is "+string(status))
}

// AlreadyTransferred is returned by the triage flow for a TRANSFERRED conversation.
func AlreadyTransferred(id string) error {
	return apperr.NewAlreadyTransferredError("conversation has already been transferred to a human agent", id)
}

// Closed is returned by the triage flow for a CLOSED conversation.
func Closed(id string) error {
	return apperr.NewConversationClosedError("conversation is closed", id)
}
