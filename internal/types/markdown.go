package types

import (
	"fmt"
	"strings"
)

// Markdown renders the finding as a standalone markdown document. This is
// the document body persisted per finding and returned by the detail API.
func (f *Finding) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", f.Title)
	b.WriteString("## Overview\n\n")
	b.WriteString("| Property | Value |\n")
	b.WriteString("|----------|-------|\n")
	fmt.Fprintf(&b, "| **ID** | `%s` |\n", f.ID)
	fmt.Fprintf(&b, "| **Category** | %s |\n", capitalize(string(f.Category)))
	fmt.Fprintf(&b, "| **Severity** | %s |\n", capitalize(string(f.Severity)))
	fmt.Fprintf(&b, "| **Location** | `%s` |\n", f.Location)
	fmt.Fprintf(&b, "| **Created** | %s |\n", f.CreatedAt.Format("2006-01-02 15:04:05"))
	if f.Author != "" {
		fmt.Fprintf(&b, "| **Author** | %s |\n", f.Author)
	}

	fmt.Fprintf(&b, "\n## Description\n\n%s\n", f.Description)

	if f.CodeSnippet != "" {
		fmt.Fprintf(&b, "\n## Code Snippet\n\n```\n%s\n```\n", f.CodeSnippet)
	}
	if f.Solution != "" {
		fmt.Fprintf(&b, "\n## Recommended Solution\n\n%s\n", f.Solution)
	}

	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
