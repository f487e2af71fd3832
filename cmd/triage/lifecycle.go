package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/triage"
)

func newLifecycleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lifecycle",
		Short: "Print the conversation state machine as a Graphviz graph",
		// no config or store needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), triage.LifecycleGraph())
			return err
		},
	}
}
