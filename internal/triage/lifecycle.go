package triage

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/comigor/triage-go/internal/classifier"
	"github.com/comigor/triage-go/internal/conversation"
)

// Lifecycle triggers
const (
	TriggerUserMessage = "UserMessage"
	TriggerTransfer    = "Transfer"
)

// lifecycle drives one conversation through OPEN -> TRANSFERRED. The state
// lives on the conversation itself; the transfer entry action persists it.
type lifecycle struct {
	conv  *conversation.Conversation
	store conversation.Store
	fsm   *stateless.StateMachine
}

func newLifecycle(conv *conversation.Conversation, store conversation.Store) *lifecycle {
	lc := &lifecycle{conv: conv, store: store}

	lc.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return lc.conv.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			lc.conv.Status = state.(conversation.Status)
			return nil
		},
		stateless.FiringImmediate,
	)
	configureLifecycle(lc.fsm, lc.transfer)
	return lc
}

// configureLifecycle wires the transition table. Only OPEN accepts user
// messages; TRANSFERRED is terminal here and CLOSED is managed elsewhere.
func configureLifecycle(sm *stateless.StateMachine, onTransfer func(context.Context, ...any) error) {
	sm.Configure(conversation.StatusOpen).
		PermitReentry(TriggerUserMessage).
		Permit(TriggerTransfer, conversation.StatusTransferred, func(_ context.Context, args ...any) bool {
			d, ok := decisionArg(args)
			return ok && d.TransferRequested()
		})

	sm.Configure(conversation.StatusTransferred).
		OnEntryFrom(TriggerTransfer, onTransfer)

	sm.Configure(conversation.StatusClosed)
}

// acceptsMessages returns the guard error for conversations that may not
// take another user message.
func (lc *lifecycle) acceptsMessages(ctx context.Context) error {
	ok, err := lc.fsm.CanFireCtx(ctx, TriggerUserMessage)
	if err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}
	if ok {
		return nil
	}
	switch lc.conv.Status {
	case conversation.StatusTransferred:
		return conversation.AlreadyTransferred(lc.conv.ID)
	case conversation.StatusClosed:
		return conversation.Closed(lc.conv.ID)
	default:
		return fmt.Errorf("lifecycle: conversation %s in unexpected state %s", lc.conv.ID, lc.conv.Status)
	}
}

// apply fires the transfer trigger when the decision asks for one. It
// reports whether a transfer happened.
func (lc *lifecycle) apply(ctx context.Context, d classifier.Decision) (bool, error) {
	ok, err := lc.fsm.CanFireCtx(ctx, TriggerTransfer, d)
	if err != nil {
		return false, fmt.Errorf("lifecycle: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := lc.fsm.FireCtx(ctx, TriggerTransfer, d); err != nil {
		return false, err
	}
	return true, nil
}

func (lc *lifecycle) transfer(ctx context.Context, args ...any) error {
	d, ok := decisionArg(args)
	if !ok || d.Department == nil {
		return fmt.Errorf("lifecycle: transfer without department")
	}
	if err := lc.store.Transition(ctx, lc.conv.ID, *d.Department, d.Summary); err != nil {
		return err
	}
	dept := *d.Department
	lc.conv.Department = &dept
	lc.conv.Summary = d.Summary
	return nil
}

func decisionArg(args []any) (classifier.Decision, bool) {
	if len(args) == 0 {
		return classifier.Decision{}, false
	}
	d, ok := args[0].(classifier.Decision)
	return d, ok
}

// LifecycleGraph renders the conversation lifecycle in Graphviz DOT format.
func LifecycleGraph() string {
	sm := stateless.NewStateMachine(conversation.StatusOpen)
	configureLifecycle(sm, func(context.Context, ...any) error { return nil })
	return sm.ToGraph()
}
