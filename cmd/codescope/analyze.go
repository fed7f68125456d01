package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/scan"
	"github.com/codescope/codescope/internal/types"
)

var (
	analyzeFileTypes []string
	analyzeExclude   []string
	analyzeModel     string
	analyzeJSON      bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <path>",
	Short: "Scan a codebase and report findings",
	Long: `Run a full scan of the given directory. Findings land in the issue
store and a health report is printed when the scan completes.

Ctrl+C cancels the scan after the file in flight finishes; findings
persisted up to that point are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		target := args[0]
		info, err := os.Stat(target)
		if err != nil {
			return fmt.Errorf("path %s does not exist", target)
		}
		if !info.IsDir() {
			return fmt.Errorf("path %s is not a directory", target)
		}

		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		evalFor, _, err := buildEvaluators(cfg, log)
		if err != nil {
			return err
		}

		if cfg.Offline() && !analyzeJSON {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s no API key configured, using pattern evaluators\n", yellow("Note:"))
		}

		fileTypes := analyzeFileTypes
		if len(fileTypes) == 0 {
			fileTypes = cfg.Scan.FileTypes
		}
		run := scan.New(target, evalFor(analyzeModel), docs, scan.Options{
			IncludeExtensions: fileTypes,
			ExcludePatterns:   append(cfg.Scan.Exclude, analyzeExclude...),
			MaxFiles:          cfg.Scan.MaxFiles,
			EvalTimeout:       cfg.Scan.EvalTimeout,
		}, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := run.Execute(ctx)
		if err != nil {
			return err
		}

		if analyzeJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		printResult(result, docs.Dir())
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeFileTypes, "file-types", nil, "only scan these extensions (e.g. go,py)")
	analyzeCmd.Flags().StringSliceVar(&analyzeExclude, "exclude", nil, "extra ignore patterns")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "model to use for this scan")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func printResult(result *scan.Result, storeDir string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Scan Complete ==="))
	fmt.Printf("  Files analyzed: %d\n", result.FilesAnalyzed)
	fmt.Printf("  Issues found:   %d\n", result.IssuesFound)
	fmt.Printf("  Health score:   %s\n", healthLabel(result.HealthScore))
	fmt.Println()
	fmt.Println(result.Summary)
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("%s\n", gray("Findings stored in "+storeDir))
}

// healthLabel colors the score green/yellow/red by band.
func healthLabel(score int) string {
	var c *color.Color
	switch {
	case score >= 80:
		c = color.New(color.FgGreen, color.Bold)
	case score >= 50:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	return c.Sprintf("%d/100", score)
}

// severityTag renders a colored severity for list output.
func severityTag(sev types.Severity) string {
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
	return c.Sprint(string(sev))
}
