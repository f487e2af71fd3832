package triage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/triage-go/internal/apperr"
	"github.com/comigor/triage-go/internal/classifier"
	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/store/memory"
	"github.com/comigor/triage-go/internal/store/storetest"
)

type fakeClassifier struct {
	mu      sync.Mutex
	decide  func(ctx context.Context, history []classifier.Turn, msg string) classifier.Decision
	history [][]classifier.Turn
}

func (f *fakeClassifier) Classify(ctx context.Context, history []classifier.Turn, msg string) classifier.Decision {
	f.mu.Lock()
	f.history = append(f.history, history)
	f.mu.Unlock()
	if f.decide == nil {
		return classifier.Decision{Message: "How can I help?"}
	}
	return f.decide(ctx, history, msg)
}

func reply(msg string) *fakeClassifier {
	return &fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		return classifier.Decision{Message: msg}
	}}
}

func transferTo(dept conversation.Department, msg, summary string) classifier.Decision {
	d := dept
	s := summary
	return classifier.Decision{ShouldTransfer: true, Department: &d, Message: msg, Summary: &s}
}

func newEngine(c Classifier) (*Engine, *memory.Store) {
	s := memory.New(memory.WithClock(storetest.NewClock().Now))
	return New(s, c), s
}

func TestSubmitMessage_CreatesConversation(t *testing.T) {
	e, _ := newEngine(reply("Hi! How can I help you today?"))

	conv, err := e.SubmitMessage(context.Background(), "", "Hello")
	require.NoError(t, err)

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, conversation.StatusOpen, conv.Status)
	assert.Nil(t, conv.Department)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hi! How can I help you today?", conv.Messages[1].Content)

	other, err := e.SubmitMessage(context.Background(), "", "Hello")
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestSubmitMessage_AppendsUserThenAssistant(t *testing.T) {
	fc := reply("Noted.")
	e, _ := newEngine(fc)
	ctx := context.Background()

	conv, err := e.SubmitMessage(ctx, "", "first")
	require.NoError(t, err)
	for i, content := range []string{"second", "third"} {
		before := len(conv.Messages)
		conv, err = e.SubmitMessage(ctx, conv.ID, content)
		require.NoError(t, err)
		require.Len(t, conv.Messages, before+2, "call %d", i)

		user, assistant := conv.Messages[before], conv.Messages[before+1]
		assert.Equal(t, conversation.RoleUser, user.Role)
		assert.Equal(t, content, user.Content)
		assert.Equal(t, conversation.RoleAssistant, assistant.Role)
		assert.True(t, assistant.CreatedAt.After(user.CreatedAt))
	}

	// the classifier sees prior turns only, never the message being classified
	require.Len(t, fc.history, 3)
	assert.Empty(t, fc.history[0])
	assert.Len(t, fc.history[1], 2)
	require.Len(t, fc.history[2], 4)
	assert.Equal(t, classifier.Turn{Role: conversation.RoleUser, Content: "second"}, fc.history[2][2])
}

func TestSubmitMessage_FallbackWhenModelFails(t *testing.T) {
	gw := classifier.New(&failingLLM{}, config.LLMConfig{})
	e, _ := newEngine(gw)

	conv, err := e.SubmitMessage(context.Background(), "", "I want to pay my bill")
	require.NoError(t, err)

	require.Len(t, conv.Messages, 2)
	assert.Equal(t, classifier.FallbackMessage, conv.Messages[1].Content)
	assert.Equal(t, conversation.StatusOpen, conv.Status)
	assert.Nil(t, conv.Department)
}

type failingLLM struct{}

func (failingLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, errors.New("dial tcp: connection refused")
}

func TestSubmitMessage_TransferAndGuard(t *testing.T) {
	fc := &fakeClassifier{decide: func(_ context.Context, history []classifier.Turn, _ string) classifier.Decision {
		if len(history) == 0 {
			return classifier.Decision{Message: "Do you have your tax id?"}
		}
		return transferTo(conversation.DepartmentFinance, "Transferring you now", "CPF collected, boleto overdue")
	}}
	e, _ := newEngine(fc)
	ctx := context.Background()

	conv, err := e.SubmitMessage(ctx, "", "I want to pay my bill")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusOpen, conv.Status)

	conv, err = e.SubmitMessage(ctx, conv.ID, "CPF 123.456.789-00")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTransferred, conv.Status)
	require.NotNil(t, conv.Department)
	assert.Equal(t, conversation.DepartmentFinance, *conv.Department)
	require.NotNil(t, conv.Summary)
	assert.Equal(t, "CPF collected, boleto overdue", *conv.Summary)
	require.Len(t, conv.Messages, 4)
	assert.Equal(t, "Transferring you now", conv.Messages[3].Content)

	_, err = e.SubmitMessage(ctx, conv.ID, "hello?")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeAlreadyTransferred), "got %v", err)

	after, err := e.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, after.Messages, 4)
	assert.Equal(t, conversation.StatusTransferred, after.Status)
	assert.Equal(t, conversation.DepartmentFinance, *after.Department)
	assert.Equal(t, *conv.Summary, *after.Summary)
	assert.True(t, after.UpdatedAt.Equal(conv.UpdatedAt))
	assert.Len(t, fc.history, 2, "classifier must not run for a transferred conversation")
}

func TestSubmitMessage_TransferWithoutDepartmentStaysOpen(t *testing.T) {
	e, _ := newEngine(&fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		return classifier.Decision{ShouldTransfer: true, Message: "Let me find the right team."}
	}})

	conv, err := e.SubmitMessage(context.Background(), "", "help")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusOpen, conv.Status)
	assert.Nil(t, conv.Department)
	assert.Nil(t, conv.Summary)
}

func TestSubmitMessage_TransferWithoutSummary(t *testing.T) {
	e, _ := newEngine(&fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		d := conversation.DepartmentSupport
		return classifier.Decision{ShouldTransfer: true, Department: &d, Message: "Sending you to Support."}
	}})

	conv, err := e.SubmitMessage(context.Background(), "", "my router is broken")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTransferred, conv.Status)
	assert.Equal(t, conversation.DepartmentSupport, *conv.Department)
	assert.Nil(t, conv.Summary)
}

func TestSubmitMessage_Validation(t *testing.T) {
	e, s := newEngine(reply("unused"))
	ctx := context.Background()

	for name, content := range map[string]string{
		"empty":    "",
		"blank":    " \n\t ",
		"too long": strings.Repeat("a", MaxContentLength+1),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.SubmitMessage(ctx, "", content)
			require.Error(t, err)
			assert.True(t, apperr.IsType(err, apperr.ErrorTypeValidation), "got %v", err)
		})
	}

	// multi-byte characters count once
	_, err := e.SubmitMessage(ctx, "", strings.Repeat("ç", MaxContentLength))
	require.NoError(t, err)

	all, err := s.List(ctx, conversation.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "rejected input must not create conversations")
}

func TestSubmitMessage_UnknownConversation(t *testing.T) {
	e, s := newEngine(reply("unused"))

	_, err := e.SubmitMessage(context.Background(), "4b0c7a6e-0000-4000-8000-000000000000", "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeNotFound), "got %v", err)

	all, err := s.List(context.Background(), conversation.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

// closedStore reports every conversation as CLOSED.
type closedStore struct {
	*memory.Store
}

func (s closedStore) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	c, err := s.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = conversation.StatusClosed
	return c, nil
}

func TestSubmitMessage_ClosedConversation(t *testing.T) {
	mem := memory.New()
	c, err := mem.Create(context.Background())
	require.NoError(t, err)
	e := New(closedStore{mem}, reply("unused"))

	_, err = e.SubmitMessage(context.Background(), c.ID, "anyone there?")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeConversationClosed), "got %v", err)

	got, err := mem.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

// racingStore lets another writer transfer the conversation right before
// our own transition.
type racingStore struct {
	*memory.Store
}

func (s racingStore) Transition(ctx context.Context, id string, d conversation.Department, summary *string) error {
	if err := s.Store.Transition(ctx, id, conversation.DepartmentSales, nil); err != nil {
		return err
	}
	return s.Store.Transition(ctx, id, d, summary)
}

func TestSubmitMessage_TransitionConflict(t *testing.T) {
	mem := memory.New()
	e := New(racingStore{mem}, &fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		return transferTo(conversation.DepartmentFinance, "Transferring", "refund")
	}})

	_, err := e.SubmitMessage(context.Background(), "", "refund please")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeConflict), "got %v", err)

	all, err := mem.List(context.Background(), conversation.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, conversation.DepartmentSales, *all[0].Department, "first writer wins")
	assert.Len(t, all[0].Messages, 2)
}

func TestSubmitMessage_CancellationAfterUserMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawCancelled atomic.Bool
	e, s := newEngine(&fakeClassifier{decide: func(cctx context.Context, _ []classifier.Turn, _ string) classifier.Decision {
		cancel()
		sawCancelled.Store(cctx.Err() != nil)
		return transferTo(conversation.DepartmentSales, "Our sales team will call you.", "wants a discount")
	}})

	conv, err := e.SubmitMessage(ctx, "", "can I get a discount?")
	require.NoError(t, err)
	assert.False(t, sawCancelled.Load())
	assert.Equal(t, conversation.StatusTransferred, conv.Status)

	stored, err := s.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, conversation.DepartmentSales, *stored.Department)
}

func TestSubmitMessage_CancelledBeforeStart(t *testing.T) {
	e, _ := newEngine(reply("unused"))
	conv, err := e.SubmitMessage(context.Background(), "", "hello")
	require.NoError(t, err)

	unlock, err := e.locker.Lock(context.Background(), conv.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.SubmitMessage(ctx, conv.ID, "still there?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := e.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestSubmitMessage_CancelledNewConversation(t *testing.T) {
	fc := reply("unused")
	e, s := newEngine(fc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		_, err := e.SubmitMessage(ctx, "", "hello")
		assert.ErrorIs(t, err, context.Canceled)
	}

	all, err := s.List(context.Background(), conversation.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, fc.history)
}

func TestSubmitMessage_CancelledExistingConversation(t *testing.T) {
	e, _ := newEngine(reply("ok"))
	conv, err := e.SubmitMessage(context.Background(), "", "hello")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.SubmitMessage(ctx, conv.ID, "again")
	assert.ErrorIs(t, err, context.Canceled)

	got, err := e.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
}

func TestSubmitMessage_SerializesSameConversation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	fc := &fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return classifier.Decision{Message: "ok"}
	}}
	e, _ := newEngine(fc)
	ctx := context.Background()

	conv, err := e.SubmitMessage(ctx, "", "start")
	require.NoError(t, err)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.SubmitMessage(ctx, conv.ID, "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())

	got, err := e.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2*(callers+1))
	for i, m := range got.Messages {
		want := conversation.RoleUser
		if i%2 == 1 {
			want = conversation.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
}

func TestSubmitMessage_ConcurrentTransferHappensOnce(t *testing.T) {
	fc := &fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		time.Sleep(time.Millisecond)
		return transferTo(conversation.DepartmentSupport, "Moving you to Support.", "login broken")
	}}
	e, _ := newEngine(reply("What happened?"))
	ctx := context.Background()
	conv, err := e.SubmitMessage(ctx, "", "I can't log in")
	require.NoError(t, err)
	e.classifier = fc

	var (
		wg        sync.WaitGroup
		ok, guard atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.SubmitMessage(ctx, conv.ID, "it says wrong password")
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.IsType(err, apperr.ErrorTypeAlreadyTransferred):
				guard.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(4), guard.Load())

	got, err := e.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 4)
	assert.Equal(t, conversation.StatusTransferred, got.Status)
}

func TestListConversations(t *testing.T) {
	fc := &fakeClassifier{decide: func(_ context.Context, _ []classifier.Turn, msg string) classifier.Decision {
		switch msg {
		case "sales":
			return transferTo(conversation.DepartmentSales, "to sales", "s")
		case "finance":
			return transferTo(conversation.DepartmentFinance, "to finance", "f")
		}
		return classifier.Decision{Message: "tell me more"}
	}}
	e, _ := newEngine(fc)
	ctx := context.Background()

	var ids []string
	for _, msg := range []string{"sales", "hello", "finance", "sales"} {
		c, err := e.SubmitMessage(ctx, "", msg)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	sales := conversation.DepartmentSales
	bySales, err := e.ListConversations(ctx, conversation.ListFilter{Department: &sales})
	require.NoError(t, err)
	require.Len(t, bySales, 2)
	assert.Equal(t, ids[3], bySales[0].ID)
	assert.Equal(t, ids[0], bySales[1].ID)

	all, err := e.ListConversations(ctx, conversation.ListFilter{Limit: -1})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, c := range all {
		assert.Equal(t, c.Status == conversation.StatusTransferred, c.Department != nil, "conversation %s", c.ID)
	}
}

func TestQueueOverview(t *testing.T) {
	fc := &fakeClassifier{decide: func(_ context.Context, _ []classifier.Turn, msg string) classifier.Decision {
		if msg == "support" {
			return transferTo(conversation.DepartmentSupport, "to support", "x")
		}
		return classifier.Decision{Message: "tell me more"}
	}}
	e, _ := newEngine(fc)
	ctx := context.Background()
	for _, msg := range []string{"support", "support", "hello"} {
		_, err := e.SubmitMessage(ctx, "", msg)
		require.NoError(t, err)
	}

	ov, err := e.QueueOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.Total)
	assert.Equal(t, StatusCounts{Open: 1, Total: 1}, ov.Unassigned)
	require.Len(t, ov.Queues, 3)
	assert.Equal(t, conversation.DepartmentSales, ov.Queues[0].Department)
	assert.Equal(t, 0, ov.Queues[0].Total)
	assert.Equal(t, "Support", ov.Queues[1].Label)
	assert.Equal(t, 2, ov.Queues[1].Transferred)
	assert.Equal(t, 2, ov.Queues[1].Total)
}

func TestLifecycleGraph(t *testing.T) {
	g := LifecycleGraph()
	assert.Contains(t, g, "digraph")
	assert.Contains(t, g, "OPEN")
	assert.Contains(t, g, "TRANSFERRED")
	assert.Contains(t, g, TriggerTransfer)
}

func TestSubmitMessage_LogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	fc := &fakeClassifier{decide: func(context.Context, []classifier.Turn, string) classifier.Decision {
		return transferTo(conversation.DepartmentSupport, "Passing you to support", "router offline")
	}}
	e := New(memory.New(), fc, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	conv, err := e.SubmitMessage(context.Background(), "", "my router is offline")
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTransferred, conv.Status)

	out := buf.String()
	assert.Contains(t, out, `"msg":"conversation transferred"`)
	assert.Contains(t, out, `"department":"SUPPORT"`)
	assert.Contains(t, out, conv.ID)
}
