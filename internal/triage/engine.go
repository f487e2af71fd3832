// Package triage runs the conversation loop: it records what the customer
// said, asks the classifier for a reply and hands the conversation to a
// department when the classifier decides it is ready.
package triage

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/comigor/triage-go/internal/classifier"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/lock"
	"github.com/comigor/triage-go/internal/logger"
)

// Classifier decides the assistant reply and whether to transfer. It must
// not fail; problems are folded into a fallback decision.
type Classifier interface {
	Classify(ctx context.Context, history []classifier.Turn, message string) classifier.Decision
}

type Engine struct {
	store      conversation.Store
	classifier Classifier
	locker     lock.Locker
	validate   *validator.Validate
	log        *slog.Logger
}

type Option func(*Engine)

// WithLocker replaces the default in-process per-conversation lock.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(store conversation.Store, c Classifier, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		classifier: c,
		locker:     lock.NewLocal(),
		validate:   newValidator(),
		log:        logger.WithComponent("triage"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitMessage records a customer message and the assistant's reply,
// transferring the conversation when the classifier asks for it. An empty
// conversationID starts a new conversation.
//
// Messages for the same conversation are processed one at a time. Once the
// user message is stored the rest of the call ignores ctx cancellation so
// the reply and any transfer still land.
func (e *Engine) SubmitMessage(ctx context.Context, conversationID, content string) (*conversation.Conversation, error) {
	req := SubmitRequest{ConversationID: conversationID, Content: content}
	if err := validateStruct(e.validate, req); err != nil {
		return nil, err
	}

	conv, unlock, err := e.resolve(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	lc := newLifecycle(conv, e.store)
	if err := lc.acceptsMessages(ctx); err != nil {
		return nil, err
	}

	history := make([]classifier.Turn, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		history = append(history, classifier.Turn{Role: m.Role, Content: m.Content})
	}

	if _, err := e.store.AppendMessage(ctx, conv.ID, conversation.RoleUser, content); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	log := e.log.With("conversation", conv.ID)

	decision := e.classifier.Classify(ctx, history, content)

	if _, err := e.store.AppendMessage(ctx, conv.ID, conversation.RoleAssistant, decision.Message); err != nil {
		return nil, err
	}

	transferred, err := lc.apply(ctx, decision)
	if err != nil {
		log.Error("transfer failed", "department", decision.Department, "error", err)
		return nil, err
	}
	if transferred {
		log.Info("conversation transferred", "department", *decision.Department)
	} else if decision.ShouldTransfer {
		log.Warn("transfer requested without department")
	}

	return e.store.Get(ctx, conv.ID)
}

// resolve creates a fresh conversation or locks and loads an existing one.
func (e *Engine) resolve(ctx context.Context, id string) (*conversation.Conversation, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if id == "" {
		conv, err := e.store.Create(ctx)
		if err != nil {
			return nil, nil, err
		}
		e.log.Info("conversation created", "conversation", conv.ID)
		// the new id is not visible to anyone else yet
		unlock, err := e.locker.Lock(context.WithoutCancel(ctx), conv.ID)
		if err != nil {
			return nil, nil, err
		}
		return conv, unlock, nil
	}

	unlock, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	conv, err := e.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return conv, unlock, nil
}

func (e *Engine) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return e.store.Get(ctx, id)
}

// ListConversations returns conversations most-recent-first.
func (e *Engine) ListConversations(ctx context.Context, filter conversation.ListFilter) ([]*conversation.Conversation, error) {
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	return e.store.List(ctx, filter)
}
