// Package config loads the service configuration: YAML file first, then
// CODESCOPE_* environment overrides on top, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Storage locations
	Storage StorageConfig `yaml:"storage"`

	// AI backend settings
	AI AIConfig `yaml:"ai"`

	// Scan behavior
	Scan ScanConfig `yaml:"scan"`

	// Chat session behavior
	Chat ChatConfig `yaml:"chat"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, host:port
	Addr string `yaml:"addr"`
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	// IssuesDir holds finding documents and the index
	IssuesDir string `yaml:"issues_dir"`
	// HistoryDB is the scan audit log database path
	HistoryDB string `yaml:"history_db"`
}

// AIConfig configures the model backend. An empty APIKey switches the
// service to the offline pattern evaluators.
type AIConfig struct {
	// APIKey for the Anthropic API; also read from ANTHROPIC_API_KEY
	APIKey string `yaml:"api_key"`
	// Model is the default model id; empty selects the built-in default
	Model string `yaml:"model"`
	// RequestsPerSecond rate-limits outbound model calls
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ScanConfig bounds individual runs.
type ScanConfig struct {
	// MaxFiles caps the file queue per run; 0 means unlimited
	MaxFiles int `yaml:"max_files"`
	// FileTypes restricts scans to these extensions; empty means all
	// recognized code extensions
	FileTypes []string `yaml:"file_types"`
	// Exclude adds gitignore-style patterns to the built-in excludes
	Exclude []string `yaml:"exclude"`
	// EvalTimeout bounds one evaluator call, e.g. "2m"
	EvalTimeout time.Duration `yaml:"eval_timeout"`
	// RunTimeout bounds a whole async run; 0 means unlimited
	RunTimeout time.Duration `yaml:"run_timeout"`
	// TaskRetention is how long finished tasks stay pollable
	TaskRetention time.Duration `yaml:"task_retention"`
}

// ChatConfig bounds chat sessions.
type ChatConfig struct {
	// SessionRetention is how long an idle session is kept
	SessionRetention time.Duration `yaml:"session_retention"`
}

// UnmarshalYAML decodes the retention from a string like "1h"; an
// omitted key keeps the current value.
func (c *ChatConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		SessionRetention string `yaml:"session_retention"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.SessionRetention != "" {
		dur, err := time.ParseDuration(raw.SessionRetention)
		if err != nil {
			return fmt.Errorf("invalid session_retention %q: %w", raw.SessionRetention, err)
		}
		c.SessionRetention = dur
	}
	return nil
}

// UnmarshalYAML decodes durations from strings like "30s" or "2m".
// Omitted keys keep whatever value the struct already holds, so defaults
// survive partial files.
func (s *ScanConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		MaxFiles      *int     `yaml:"max_files"`
		FileTypes     []string `yaml:"file_types"`
		Exclude       []string `yaml:"exclude"`
		EvalTimeout   string   `yaml:"eval_timeout"`
		RunTimeout    string   `yaml:"run_timeout"`
		TaskRetention string   `yaml:"task_retention"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.MaxFiles != nil {
		s.MaxFiles = *raw.MaxFiles
	}
	if raw.FileTypes != nil {
		s.FileTypes = raw.FileTypes
	}
	if raw.Exclude != nil {
		s.Exclude = raw.Exclude
	}
	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"eval_timeout", raw.EvalTimeout, &s.EvalTimeout},
		{"run_timeout", raw.RunTimeout, &s.RunTimeout},
		{"task_retention", raw.TaskRetention, &s.TaskRetention},
	} {
		if d.val == "" {
			continue
		}
		dur, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.val, err)
		}
		*d.dst = dur
	}
	return nil
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:8000",
		},
		Storage: StorageConfig{
			IssuesDir: ".codescope/issues",
			HistoryDB: ".codescope/history.db",
		},
		AI: AIConfig{
			RequestsPerSecond: 2,
		},
		Scan: ScanConfig{
			MaxFiles:      500,
			EvalTimeout:   2 * time.Minute,
			RunTimeout:    time.Hour,
			TaskRetention: 30 * time.Minute,
		},
		Chat: ChatConfig{
			SessionRetention: time.Hour,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides, and
// validates. A missing file path is an error; an empty path just means
// defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing YAML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers CODESCOPE_* variables over the file values. The API key
// additionally falls back to ANTHROPIC_API_KEY so the standard SDK
// variable keeps working.
func (c *Config) applyEnv() error {
	if v := os.Getenv("CODESCOPE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CODESCOPE_ISSUES_DIR"); v != "" {
		c.Storage.IssuesDir = v
	}
	if v := os.Getenv("CODESCOPE_HISTORY_DB"); v != "" {
		c.Storage.HistoryDB = v
	}
	if v := os.Getenv("CODESCOPE_API_KEY"); v != "" {
		c.AI.APIKey = v
	} else if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if v := os.Getenv("CODESCOPE_MODEL"); v != "" {
		c.AI.Model = v
	}
	if v := os.Getenv("CODESCOPE_REQUESTS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CODESCOPE_REQUESTS_PER_SECOND %q: %w", v, err)
		}
		c.AI.RequestsPerSecond = rps
	}
	if v := os.Getenv("CODESCOPE_MAX_FILES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CODESCOPE_MAX_FILES %q: %w", v, err)
		}
		c.Scan.MaxFiles = n
	}
	if v := os.Getenv("CODESCOPE_FILE_TYPES"); v != "" {
		c.Scan.FileTypes = splitList(v)
	}
	if v := os.Getenv("CODESCOPE_EXCLUDE"); v != "" {
		c.Scan.Exclude = splitList(v)
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"CODESCOPE_EVAL_TIMEOUT", &c.Scan.EvalTimeout},
		{"CODESCOPE_RUN_TIMEOUT", &c.Scan.RunTimeout},
		{"CODESCOPE_TASK_RETENTION", &c.Scan.TaskRetention},
		{"CODESCOPE_SESSION_RETENTION", &c.Chat.SessionRetention},
	} {
		if v := os.Getenv(d.env); v != "" {
			dur, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.env, v, err)
			}
			*d.dst = dur
		}
	}
	return nil
}

// Validate checks the configuration has usable values.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Storage.IssuesDir == "" {
		return fmt.Errorf("storage.issues_dir is required")
	}
	if c.Storage.HistoryDB == "" {
		return fmt.Errorf("storage.history_db is required")
	}
	if c.AI.RequestsPerSecond < 0 {
		return fmt.Errorf("ai.requests_per_second cannot be negative (got %g)", c.AI.RequestsPerSecond)
	}
	if c.Scan.MaxFiles < 0 {
		return fmt.Errorf("scan.max_files cannot be negative (got %d)", c.Scan.MaxFiles)
	}
	if c.Scan.EvalTimeout <= 0 {
		return fmt.Errorf("scan.eval_timeout must be positive (got %s)", c.Scan.EvalTimeout)
	}
	if c.Scan.RunTimeout < 0 {
		return fmt.Errorf("scan.run_timeout cannot be negative (got %s)", c.Scan.RunTimeout)
	}
	if c.Scan.TaskRetention <= 0 {
		return fmt.Errorf("scan.task_retention must be positive (got %s)", c.Scan.TaskRetention)
	}
	if c.Chat.SessionRetention <= 0 {
		return fmt.Errorf("chat.session_retention must be positive (got %s)", c.Chat.SessionRetention)
	}
	return nil
}

// splitList parses a comma-separated environment value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Offline reports whether the service runs without a model backend.
func (c Config) Offline() bool {
	return c.AI.APIKey == ""
}
