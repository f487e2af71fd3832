// Package storetest is the behavioural suite every conversation.Store
// driver must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/triage-go/internal/apperr"
	"github.com/comigor/triage-go/internal/conversation"
)

// Clock hands out strictly increasing timestamps, one second apart.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock() *Clock {
	return &Clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// Factory builds an empty store that takes its timestamps from now.
type Factory func(t *testing.T, now func() time.Time) conversation.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s conversation.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"GetMissing", testGetMissing},
		{"AppendMessageOrder", testAppendMessageOrder},
		{"AppendMessageMissing", testAppendMessageMissing},
		{"Transition", testTransition},
		{"TransitionWithoutSummary", testTransitionWithoutSummary},
		{"TransitionMissing", testTransitionMissing},
		{"ListOrderAndFilters", testListOrderAndFilters},
		{"QueueSummary", testQueueSummary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, NewClock().Now)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCreateAndGet(t *testing.T, s conversation.Store) {
	ctx := context.Background()
	created, err := s.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, conversation.StatusOpen, created.Status)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, conversation.StatusOpen, got.Status)
	assert.Nil(t, got.Department)
	assert.Nil(t, got.Summary)
	assert.Empty(t, got.Messages)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(got.CreatedAt))

	other, err := s.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, other.ID)
}

func testGetMissing(t *testing.T, s conversation.Store) {
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeNotFound), "got %v", err)
}

func testAppendMessageOrder(t *testing.T, s conversation.Store) {
	ctx := context.Background()
	c, err := s.Create(ctx)
	require.NoError(t, err)

	m1, err := s.AppendMessage(ctx, c.ID, conversation.RoleUser, "I want to pay my bill")
	require.NoError(t, err)
	m2, err := s.AppendMessage(ctx, c.ID, conversation.RoleAssistant, "Do you have your document number?")
	require.NoError(t, err)
	m3, err := s.AppendMessage(ctx, c.ID, conversation.RoleUser, "CPF 123.456.789-00")
	require.NoError(t, err)

	assert.Equal(t, c.ID, m1.ConversationID)
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.True(t, m2.CreatedAt.After(m1.CreatedAt))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, []string{m1.ID, m2.ID, m3.ID}, []string{got.Messages[0].ID, got.Messages[1].ID, got.Messages[2].ID})
	assert.Equal(t, conversation.RoleUser, got.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "CPF 123.456.789-00", got.Messages[2].Content)
	assert.Equal(t, c.ID, got.Messages[1].ConversationID)
	assert.True(t, got.UpdatedAt.Equal(m3.CreatedAt), "updatedAt %s, last message %s", got.UpdatedAt, m3.CreatedAt)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func testAppendMessageMissing(t *testing.T, s conversation.Store) {
	_, err := s.AppendMessage(context.Background(), "nope", conversation.RoleUser, "hello")
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeNotFound), "got %v", err)
}

func testTransition(t *testing.T, s conversation.Store) {
	ctx := context.Background()
	c, err := s.Create(ctx)
	require.NoError(t, err)

	summary := "CPF collected, boleto overdue"
	require.NoError(t, s.Transition(ctx, c.ID, conversation.DepartmentFinance, &summary))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTransferred, got.Status)
	require.NotNil(t, got.Department)
	assert.Equal(t, conversation.DepartmentFinance, *got.Department)
	require.NotNil(t, got.Summary)
	assert.Equal(t, summary, *got.Summary)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	other := "overwrite attempt"
	err = s.Transition(ctx, c.ID, conversation.DepartmentSales, &other)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeConflict), "got %v", err)

	again, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.DepartmentFinance, *again.Department)
	assert.Equal(t, summary, *again.Summary)
	assert.True(t, again.UpdatedAt.Equal(got.UpdatedAt))
}

func testTransitionWithoutSummary(t *testing.T, s conversation.Store) {
	ctx := context.Background()
	c, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, c.ID, conversation.DepartmentSupport, nil))

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTransferred, got.Status)
	assert.Nil(t, got.Summary)
}

func testTransitionMissing(t *testing.T, s conversation.Store) {
	err := s.Transition(context.Background(), "nope", conversation.DepartmentSales, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrorTypeNotFound), "got %v", err)
}

func seed(t *testing.T, s conversation.Store) (c1, c2, c3, c4 *conversation.Conversation) {
	t.Helper()
	ctx := context.Background()
	var err error
	c1, err = s.Create(ctx)
	require.NoError(t, err)
	c2, err = s.Create(ctx)
	require.NoError(t, err)
	c3, err = s.Create(ctx)
	require.NoError(t, err)
	c4, err = s.Create(ctx)
	require.NoError(t, err)

	_, err = s.AppendMessage(ctx, c1.ID, conversation.RoleUser, "discount for paying today?")
	require.NoError(t, err)
	require.NoError(t, s.Transition(ctx, c1.ID, conversation.DepartmentSales, nil))
	require.NoError(t, s.Transition(ctx, c3.ID, conversation.DepartmentSales, nil))
	require.NoError(t, s.Transition(ctx, c4.ID, conversation.DepartmentFinance, nil))
	return c1, c2, c3, c4
}

func ids(cs []*conversation.Conversation) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func testListOrderAndFilters(t *testing.T, s conversation.Store) {
	ctx := context.Background()
	c1, c2, c3, c4 := seed(t, s)

	all, err := s.List(ctx, conversation.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{c4.ID, c3.ID, c2.ID, c1.ID}, ids(all))
	require.Len(t, all[3].Messages, 1)
	assert.Equal(t, "discount for paying today?", all[3].Messages[0].Content)

	sales := conversation.DepartmentSales
	bySales, err := s.List(ctx, conversation.ListFilter{Department: &sales})
	require.NoError(t, err)
	assert.Equal(t, []string{c3.ID, c1.ID}, ids(bySales))
	for _, c := range bySales {
		require.NotNil(t, c.Department)
		assert.Equal(t, sales, *c.Department)
	}

	open := conversation.StatusOpen
	byOpen, err := s.List(ctx, conversation.ListFilter{Status: &open})
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, ids(byOpen))

	transferred := conversation.StatusTransferred
	finance := conversation.DepartmentFinance
	both, err := s.List(ctx, conversation.ListFilter{Status: &transferred, Department: &finance})
	require.NoError(t, err)
	assert.Equal(t, []string{c4.ID}, ids(both))

	limited, err := s.List(ctx, conversation.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{c4.ID, c3.ID}, ids(limited))
}

func testQueueSummary(t *testing.T, s conversation.Store) {
	seed(t, s)

	counts, err := s.QueueSummary(context.Background())
	require.NoError(t, err)

	got := map[string]int{}
	for _, qc := range counts {
		key := "none"
		if qc.Department != nil {
			key = string(*qc.Department)
		}
		got[key+"/"+string(qc.Status)] += qc.Count
	}
	assert.Equal(t, map[string]int{
		"none/OPEN":           1,
		"SALES/TRANSFERRED":   2,
		"FINANCE/TRANSFERRED": 1,
	}, got)
}
