package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model output rarely arrives as clean JSON: it gets wrapped in code fences,
// prefixed with prose, or sprinkled with trailing commas. These patterns are
// precompiled; compiling per parse is an order of magnitude slower.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	objectRegex        = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex         = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ExtractJSON parses JSON out of model output, tolerating the formatting
// quirks LLMs produce. Strategies, in order:
//
//  1. Direct parse.
//  2. Strip markdown code fences and retry.
//  3. Remove trailing commas and retry.
//  4. Extract the outermost JSON object or array from mixed content.
func ExtractJSON[T any](text string) (T, error) {
	var zero T

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("empty model output")
	}

	if v, err := tryParse[T](trimmed); err == nil {
		return v, nil
	}

	unfenced := strings.TrimSpace(codeFenceRegex.ReplaceAllString(trimmed, "$1"))
	if v, err := tryParse[T](unfenced); err == nil {
		return v, nil
	}

	cleaned := trailingCommaRegex.ReplaceAllString(unfenced, "$1")
	if v, err := tryParse[T](cleaned); err == nil {
		return v, nil
	}

	if extracted := extractEnclosed(cleaned); extracted != "" {
		if v, err := tryParse[T](extracted); err == nil {
			return v, nil
		}
	}

	return zero, fmt.Errorf("no parseable JSON in model output (%d bytes)", len(text))
}

func tryParse[T any](text string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(text), &v)
	return v, err
}

// extractEnclosed pulls the outermost JSON object or array out of mixed
// content. The first JSON-like character decides which shape to look for,
// so an array of objects is not mistaken for its first element.
func extractEnclosed(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return arrayRegex.FindString(trimmed)
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return objectRegex.FindString(trimmed)
	}
	if m := arrayRegex.FindString(text); m != "" {
		return m
	}
	return objectRegex.FindString(text)
}
