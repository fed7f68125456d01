package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codescope/codescope/internal/store"
	"github.com/codescope/codescope/internal/types"
)

var (
	issuesType     string
	issuesSeverity string
	issuesSearch   string
	issuesFile     string
	issuesPage     int
	issuesPageSize int
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List stored findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}

		flt := store.Filter{Search: issuesSearch, File: issuesFile}
		if issuesType != "" {
			cat, err := types.ParseCategory(issuesType)
			if err != nil {
				return err
			}
			flt.Category = cat
		}
		if issuesSeverity != "" {
			sev, err := types.ParseSeverity(issuesSeverity)
			if err != nil {
				return err
			}
			flt.Severity = sev
		}

		result := docs.List(flt, issuesPage, issuesPageSize)
		if len(result.Findings) == 0 {
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%s\n", gray("No findings match"))
			return nil
		}

		fmt.Println()
		for _, f := range result.Findings {
			fmt.Printf("%s  %-8s  %-12s  %s\n", f.ID, severityTag(f.Severity), f.Category, f.Title)
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("              %s\n", gray(f.Location))
		}
		fmt.Printf("\nPage %d: %d of %d findings (%d stored)\n",
			result.Page, len(result.Findings), result.FilteredTotal, result.Total)
		return nil
	},
}

var issuesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one finding's full document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		doc, err := docs.Markdown(args[0])
		if err != nil {
			return err
		}
		fmt.Println(doc)
		return nil
	},
}

var issuesSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show finding counts by category and severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}

		sum := docs.Summary()
		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s %d findings\n\n", cyan("Total:"), sum.Total)
		for _, sev := range types.Severities() {
			fmt.Printf("  %-10s %d\n", severityTag(sev), sum.BySeverity[sev])
		}
		fmt.Println()
		for _, cat := range types.Categories() {
			fmt.Printf("  %-12s %d\n", cat, sum.ByCategory[cat])
		}
		fmt.Println()
		return nil
	},
}

var issuesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one finding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		if err := docs.Delete(args[0]); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s deleted %s\n", green("✓"), args[0])
		return nil
	},
}

var issuesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		docs, err := openStore(cfg)
		if err != nil {
			return err
		}
		count, err := docs.Clear()
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s deleted %d findings\n", green("✓"), count)
		return nil
	},
}

func init() {
	issuesCmd.Flags().StringVar(&issuesType, "type", "", "filter by category (security|performance|architecture)")
	issuesCmd.Flags().StringVar(&issuesSeverity, "risk-level", "", "filter by severity (critical|high|medium|low)")
	issuesCmd.Flags().StringVar(&issuesSearch, "search", "", "free-text search over title, description, location")
	issuesCmd.Flags().StringVar(&issuesFile, "file", "", "filter by file path substring")
	issuesCmd.Flags().IntVar(&issuesPage, "page", 1, "page number (1-indexed)")
	issuesCmd.Flags().IntVar(&issuesPageSize, "page-size", 20, "findings per page")

	issuesCmd.AddCommand(issuesShowCmd)
	issuesCmd.AddCommand(issuesSummaryCmd)
	issuesCmd.AddCommand(issuesDeleteCmd)
	issuesCmd.AddCommand(issuesClearCmd)
	rootCmd.AddCommand(issuesCmd)
}
