package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "triage:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:           "triage",
		Short:         "Customer-service triage assistant",
		Long:          `triage talks to customers through a language model and hands each conversation to Sales, Support or Finance once it knows enough.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Init(loaded.Logger, os.Stderr)
			*cfg = *loaded
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(
		newServeCommand(cfg),
		newChatCommand(cfg),
		newQueuesCommand(cfg),
		newLifecycleCommand(),
	)
	return root
}
