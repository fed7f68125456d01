package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/repl"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Discuss stored findings interactively",
	Long: `Open an interactive shell over the issue store. Built-in commands
browse findings; free-form questions go to the AI assistant with the
current findings as context.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		_, client, err := buildEvaluators(cfg, log)
		if err != nil {
			return err
		}

		r, err := repl.New(repl.Config{
			Docs: docs,
			Chat: buildChat(cfg, client, docs, log),
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return r.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
