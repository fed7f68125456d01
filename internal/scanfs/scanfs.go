// Package scanfs collects the analyzable source files under a scan root.
// It applies the default ignore set, the root's .gitignore, and any
// caller-supplied patterns, and returns paths in a stable sorted order so
// runs over the same tree always see the same queue.
package scanfs

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// MaxFileSize is the largest file the scanner will read. Bigger files are
// skipped during collection.
const MaxFileSize = 1024 * 1024

// DefaultIgnorePatterns covers build output, dependency trees, and caches
// that no review should descend into.
var DefaultIgnorePatterns = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"venv/",
	".venv/",
	"env/",
	"__pycache__/",
	".pytest_cache/",
	".mypy_cache/",
	".tox/",
	"dist/",
	"build/",
	"target/",
	"out/",
	"bin/",
	"obj/",
	"coverage/",
	".idea/",
	".vscode/",
	"*.egg-info",
	"*.pyc",
	"*.pyo",
	"*.so",
	"*.class",
	"*.min.js",
	"*.min.css",
}

// codeExtensions is the set of file types worth reviewing. Everything else
// (images, lockfiles, archives) is skipped during collection.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true,
	".ts": true, ".tsx": true, ".java": true, ".kt": true,
	".rb": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cc": true, ".cs": true,
	".php": true, ".swift": true, ".scala": true,
	".sh": true, ".sql": true,
}

// Options configures one collection pass.
type Options struct {
	// IncludeExtensions narrows collection to these extensions (with
	// leading dot). Empty means the built-in code extension set.
	IncludeExtensions []string
	// ExcludePatterns adds gitignore-style patterns on top of the
	// defaults and the root's .gitignore.
	ExcludePatterns []string
	// MaxFiles caps the queue size; zero means no cap. The cap is
	// applied after sorting so it is deterministic.
	MaxFiles int
}

// Collect walks root and returns the relative paths of analyzable files,
// sorted lexically. root must be an existing directory.
func Collect(root string, opts Options) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root %s is not a directory", root)
	}

	patterns := append([]string{}, DefaultIgnorePatterns...)
	if content, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		patterns = append(patterns, strings.Split(string(content), "\n")...)
	}
	patterns = append(patterns, opts.ExcludePatterns...)
	matcher := ignore.CompileIgnoreLines(patterns...)

	include := codeExtensions
	if len(opts.IncludeExtensions) > 0 {
		include = make(map[string]bool, len(opts.IncludeExtensions))
		for _, ext := range opts.IncludeExtensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			include[strings.ToLower(ext)] = true
		}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			// Trailing slash so directory patterns match.
			if matcher.MatchesPath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if matcher.MatchesPath(rel) {
			return nil
		}
		if !include[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		if fi, err := d.Info(); err != nil || fi.Size() > MaxFileSize {
			return nil
		}

		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(files)
	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}
	return files, nil
}

// ReadSource reads one collected file. Binary content (NUL byte in the
// first 8KB) comes back as an empty string with ok=false so callers can
// skip it without treating the file as an error.
func ReadSource(root, rel string) (content string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", rel, err)
	}
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return "", false, nil
	}
	return string(data), true, nil
}
