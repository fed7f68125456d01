// Package repl is the interactive shell for discussing scan results.
// Built-in commands cover browsing the store; anything else is sent to the
// chat service as a question.
package repl

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/codescope/codescope/internal/chat"
	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

// REPL is the interactive shell.
type REPL struct {
	docs      *store.Store
	chat      *chat.Service
	sessionID string
	commands  map[string]commandHandler
}

type commandHandler func(args []string) error

// Config holds REPL configuration.
type Config struct {
	Docs *store.Store
	Chat *chat.Service
}

// New creates a REPL instance.
func New(cfg Config) (*REPL, error) {
	if cfg.Docs == nil {
		return nil, fmt.Errorf("finding store is required")
	}
	r := &REPL{
		docs: cfg.Docs,
		chat: cfg.Chat,
	}
	r.commands = map[string]commandHandler{
		"help":    r.cmdHelp,
		"?":       r.cmdHelp,
		"summary": r.cmdSummary,
		"issues":  r.cmdIssues,
		"show":    r.cmdShow,
		"exit":    r.cmdExit,
		"quit":    r.cmdExit,
	}
	return r, nil
}

// Run starts the shell loop. It returns on exit/quit, Ctrl+D, or a
// readline failure.
func (r *REPL) Run(ctx context.Context) error {
	cyan := color.New(color.FgCyan).SprintFunc()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("codescope> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := r.processInput(ctx, line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %v\n", red("Error:"), err)
		}
	}
}

// processInput dispatches a command or forwards free text to chat.
func (r *REPL) processInput(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if handler, ok := r.commands[parts[0]]; ok {
		return handler(parts[1:])
	}
	return r.ask(ctx, line)
}

func (r *REPL) ask(ctx context.Context, question string) error {
	if r.chat == nil {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Chat needs an API key. Use 'summary', 'issues', or 'show <id>' to browse findings.\n", yellow("Note:"))
		return nil
	}
	resp, err := r.chat.Ask(ctx, chat.Request{
		Message: question,
		Context: chat.Context{SessionID: r.sessionID},
	})
	if err != nil {
		return err
	}
	r.sessionID = resp.SessionID
	fmt.Printf("\n%s\n\n", resp.Response)
	return nil
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n", cyan("CodeScope interactive shell"))
	fmt.Printf("Browsing %d stored findings.\n", r.docs.Count())
	fmt.Println()
	fmt.Println("Type 'help' for commands, or ask a question in plain English.")
	fmt.Println()
}

func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("Available Commands:"))
	fmt.Println("  summary              Show finding counts by category and severity")
	fmt.Println("  issues [severity]    List findings, optionally filtered by severity")
	fmt.Println("  show <id>            Show one finding's full document")
	fmt.Println("  exit, quit           Leave the shell")
	fmt.Println()
	fmt.Println("Anything else is sent to the assistant as a question.")
	fmt.Println()
	return nil
}

func (r *REPL) cmdSummary(args []string) error {
	sum := r.docs.Summary()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s %d findings\n\n", cyan("Total:"), sum.Total)
	for _, sev := range types.Severities() {
		fmt.Printf("  %s %d\n", severityLabel(sev), sum.BySeverity[sev])
	}
	fmt.Println()
	for _, cat := range types.Categories() {
		fmt.Printf("  %-12s %d\n", cat, sum.ByCategory[cat])
	}
	fmt.Println()
	return nil
}

func (r *REPL) cmdIssues(args []string) error {
	var flt store.Filter
	if len(args) > 0 {
		sev, err := types.ParseSeverity(args[0])
		if err != nil {
			return err
		}
		flt.Severity = sev
	}
	result := r.docs.List(flt, 1, 25)
	if len(result.Findings) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("  %s\n", gray("No findings match"))
		return nil
	}
	fmt.Println()
	for _, f := range result.Findings {
		fmt.Printf("  %s %s %s\n", f.ID, severityLabel(f.Severity), f.Title)
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("      %s\n", gray(f.Location))
	}
	if result.FilteredTotal > len(result.Findings) {
		fmt.Printf("\n  ... and %d more\n", result.FilteredTotal-len(result.Findings))
	}
	fmt.Println()
	return nil
}

func (r *REPL) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <id>")
	}
	doc, err := r.docs.Markdown(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", doc)
	return nil
}

func (r *REPL) cmdExit(args []string) error {
	fmt.Println("Goodbye!")
	return io.EOF
}

// severityLabel renders a colored fixed-width severity tag.
func severityLabel(sev types.Severity) string {
	var c *color.Color
	switch sev {
	case types.SeverityCritical:
		c = color.New(color.FgRed, color.Bold)
	case types.SeverityHigh:
		c = color.New(color.FgRed)
	case types.SeverityMedium:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgHiBlack)
	}
	return c.Sprintf("%-8s", sev)
}
