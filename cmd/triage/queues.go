package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/triage"
)

func newQueuesCommand(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "queues",
		Short: "Show conversation counts per department",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return printQueues(cmd.Context(), a.engine, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

type queueReader interface {
	QueueOverview(ctx context.Context) (*triage.QueueOverview, error)
}

func printQueues(ctx context.Context, q queueReader, out io.Writer, asJSON bool) error {
	ov, err := q.QueueOverview(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ov)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUE\tOPEN\tTRANSFERRED\tCLOSED\tTOTAL")
	for _, row := range ov.Queues {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", row.Label, row.Open, row.Transferred, row.Closed, row.Total)
	}
	u := ov.Unassigned
	fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", "Unassigned", u.Open, u.Transferred, u.Closed, u.Total)
	fmt.Fprintf(tw, "\t\t\t\t%d\n", ov.Total)
	return tw.Flush()
}
