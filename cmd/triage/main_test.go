package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/triage"
)

type fakeChat struct {
	replies []*conversation.Conversation
	errs    []error
	seenIDs []string
}

func (f *fakeChat) SubmitMessage(_ context.Context, id, content string) (*conversation.Conversation, error) {
	f.seenIDs = append(f.seenIDs, id)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := f.replies[0]
	f.replies = f.replies[1:]
	return c, nil
}

func withReply(id, text string) *conversation.Conversation {
	return &conversation.Conversation{
		ID:       id,
		Status:   conversation.StatusOpen,
		Messages: []conversation.Message{{Role: conversation.RoleUser}, {Role: conversation.RoleAssistant, Content: text}},
	}
}

func TestRunChat(t *testing.T) {
	dept := conversation.DepartmentSupport
	summary := "router broken since Monday"
	transferred := withReply("c1", "Sending you to Support.")
	transferred.Status = conversation.StatusTransferred
	transferred.Department = &dept
	transferred.Summary = &summary

	svc := &fakeChat{
		errs:    []error{nil, errors.New("temporary"), nil},
		replies: []*conversation.Conversation{withReply("c1", "What happened?"), transferred},
	}
	in := strings.NewReader("my router\n\nsince monday\nagain\nignored after transfer\n")
	var out bytes.Buffer

	require.NoError(t, runChat(context.Background(), svc, "", in, &out))

	assert.Equal(t, []string{"", "c1", "c1"}, svc.seenIDs)
	text := out.String()
	assert.Contains(t, text, "assistant: What happened?")
	assert.Contains(t, text, "error: temporary")
	assert.Contains(t, text, "-- transferred to Support --")
	assert.Contains(t, text, "summary: router broken since Monday")
}

func TestRunChatEOF(t *testing.T) {
	svc := &fakeChat{replies: []*conversation.Conversation{withReply("c9", "Hi!")}}
	var out bytes.Buffer
	require.NoError(t, runChat(context.Background(), svc, "c9", strings.NewReader("hello"), &out))
	assert.Equal(t, []string{"c9"}, svc.seenIDs)
}

type fixedQueues struct{ ov *triage.QueueOverview }

func (f fixedQueues) QueueOverview(context.Context) (*triage.QueueOverview, error) { return f.ov, nil }

func TestPrintQueues(t *testing.T) {
	ov := &triage.QueueOverview{
		Queues: []triage.DepartmentQueue{
			{Department: conversation.DepartmentSales, Label: "Sales", StatusCounts: triage.StatusCounts{Transferred: 2, Total: 2}},
		},
		Unassigned: triage.StatusCounts{Open: 3, Total: 3},
		Total:      5,
	}

	var table bytes.Buffer
	require.NoError(t, printQueues(context.Background(), fixedQueues{ov}, &table, false))
	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"QUEUE", "OPEN", "TRANSFERRED", "CLOSED", "TOTAL"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"Sales", "0", "2", "0", "2"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"Unassigned", "3", "0", "0", "3"}, strings.Fields(lines[2]))

	var js bytes.Buffer
	require.NoError(t, printQueues(context.Background(), fixedQueues{ov}, &js, true))
	assert.Contains(t, js.String(), `"unassigned"`)
	assert.Contains(t, js.String(), `"label": "Sales"`)
}

func TestQueuesCommandWithMemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nlogger:\n  level: error\n"), 0o600))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "queues", "--json"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), `"total": 0`)
}

func TestLifecycleCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", "/does/not/exist.yaml", "lifecycle"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "digraph")
}

func TestMissingConfigFails(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", "/does/not/exist.yaml", "queues"})
	assert.ErrorContains(t, root.Execute(), "failed to load config")
}
