package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/store"
)

// chatService is the engine surface the terminal client uses.
type chatService interface {
	SubmitMessage(ctx context.Context, conversationID, content string) (*conversation.Conversation, error)
}

func newChatCommand(cfg *config.Config) *cobra.Command {
	var (
		ephemeral bool
		resume    string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if ephemeral {
				cfg.Store.Driver = store.DriverMemory
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return runChat(ctx, a.engine, resume, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the conversation in memory only")
	cmd.Flags().StringVar(&resume, "conversation", "", "continue an existing conversation")
	return cmd
}

// runChat sends one message per input line until EOF, cancellation or a transfer.
func runChat(ctx context.Context, svc chatService, conversationID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Type your message and press Enter. Ctrl-D quits.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		conv, err := svc.SubmitMessage(ctx, conversationID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, "error:", err)
			continue
		}
		conversationID = conv.ID
		if n := len(conv.Messages); n > 0 {
			fmt.Fprintln(out, "assistant:", conv.Messages[n-1].Content)
		}

		if conv.Status == conversation.StatusTransferred && conv.Department != nil {
			fmt.Fprintf(out, "\n-- transferred to %s --\n", conv.Department.Label())
			if conv.Summary != nil {
				fmt.Fprintln(out, "summary:", *conv.Summary)
			}
			fmt.Fprintln(out, "conversation:", conv.ID)
			return nil
		}
	}
}
