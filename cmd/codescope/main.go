// codescope analyzes a codebase for security, performance, and
// architecture issues, stores deduplicated findings, and serves them over
// an HTTP API or the command line.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/ai"
	"github.com/codescope/codescope/internal/chat"
	"github.com/codescope/codescope/internal/config"
	"github.com/codescope/codescope/internal/evaluator"
	"github.com/codescope/codescope/internal/store"
)

var (
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "codescope",
	Short: "AI-assisted codebase analysis",
	Long: `CodeScope scans a codebase with security, performance, and architecture
evaluators, deduplicates the findings, and keeps them in a browsable store.

Run 'codescope serve' for the HTTP API, 'codescope analyze <path>' for a
one-shot scan, or 'codescope chat' to discuss stored findings.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads configuration and sets up the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return cfg, log, nil
}

// openStore opens the finding store at the configured location.
func openStore(cfg config.Config) (*store.Store, error) {
	docs, err := store.New(cfg.Storage.IssuesDir)
	if err != nil {
		return nil, fmt.Errorf("opening issue store: %w", err)
	}
	return docs, nil
}

// buildEvaluators wires the evaluator factory and, when a backend exists,
// the shared AI client. Offline mode falls back to the pattern evaluators
// for every request.
func buildEvaluators(cfg config.Config, log *slog.Logger) (func(model string) evaluator.Evaluator, *ai.Client, error) {
	if cfg.Offline() {
		heuristic := evaluator.NewHeuristicEvaluator()
		return func(string) evaluator.Evaluator { return heuristic }, nil, nil
	}

	client, err := ai.New(ai.Config{
		APIKey:            cfg.AI.APIKey,
		Model:             cfg.AI.Model,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building AI client: %w", err)
	}
	factory := func(model string) evaluator.Evaluator {
		return evaluator.NewModelEvaluator(client, model, log)
	}
	return factory, client, nil
}

// buildChat returns the chat service, or nil in offline mode.
func buildChat(cfg config.Config, client *ai.Client, docs *store.Store, log *slog.Logger) *chat.Service {
	if client == nil {
		return nil
	}
	return chat.New(client, docs, cfg.AI.Model, cfg.Chat.SessionRetention, log)
}
