// Package config defines the daemon configuration: the global engine
// options and the per-directory watch configurations, loaded from YAML
// with explicit field-by-field validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before the YAML overlay.
const (
	DefaultPollIntervalMs     = 5000
	DefaultMaxRetryAttempts   = 3
	DefaultRetryDelayMs       = 1000
	DefaultProcessingBudgetMs = 600000
	DefaultHTTPAddr           = "127.0.0.1:8844"
)

// WatchConfig describes one watched directory and its processing policy.
// Immutable once registered.
type WatchConfig struct {
	Name           string            `yaml:"name"             json:"name"`
	ProcessorType  string            `yaml:"processor_type"   json:"processor_type"`
	WatchDir       string            `yaml:"watch_dir"        json:"watch_dir"`
	CompletedDir   string            `yaml:"completed_dir"    json:"completed_dir,omitempty"`
	ErrorDir       string            `yaml:"error_dir"        json:"error_dir,omitempty"`
	FilePatterns   []string          `yaml:"file_patterns"    json:"file_patterns"`
	PollIntervalMs int               `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	Enabled        bool              `yaml:"enabled"          json:"enabled"`
	Options        map[string]string `yaml:"options"          json:"options,omitempty"`
}

// UnmarshalYAML applies per-watch defaults before decoding.
func (w *WatchConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw WatchConfig
	r := raw{Enabled: true, PollIntervalMs: DefaultPollIntervalMs}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*w = WatchConfig(r)
	return nil
}

// PollInterval returns the polling cadence as a duration.
func (w *WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// EffectiveCompletedDir resolves the completed directory, defaulting to
// <watch_dir>/completed.
func (w *WatchConfig) EffectiveCompletedDir() string {
	if w.CompletedDir != "" {
		return w.CompletedDir
	}
	return filepath.Join(w.WatchDir, "completed")
}

// EffectiveErrorDir resolves the error directory, defaulting to
// <watch_dir>/error.
func (w *WatchConfig) EffectiveErrorDir() string {
	if w.ErrorDir != "" {
		return w.ErrorDir
	}
	return filepath.Join(w.WatchDir, "error")
}

// QueueDir is the degradation queue directory, a sibling of the watch
// directory shared by configs watching under the same parent.
func (w *WatchConfig) QueueDir() string {
	return filepath.Join(filepath.Dir(w.WatchDir), "queue")
}

// Option returns a processor-specific option value ("" if unset).
func (w *WatchConfig) Option(key string) string {
	return w.Options[key]
}

// Validate checks one watch configuration. Directory existence is the
// registry's concern at registration time; this validates shape only.
func (w *WatchConfig) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("watch name must not be blank")
	}
	if strings.TrimSpace(w.ProcessorType) == "" {
		return fmt.Errorf("watch %q: processor_type must not be blank", w.Name)
	}
	if strings.TrimSpace(w.WatchDir) == "" {
		return fmt.Errorf("watch %q: watch_dir is required", w.Name)
	}
	if len(w.FilePatterns) == 0 {
		return fmt.Errorf("watch %q: file_patterns must not be empty", w.Name)
	}
	for _, p := range w.FilePatterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("watch %q: empty file pattern", w.Name)
		}
	}
	if w.PollIntervalMs < 1000 {
		return fmt.Errorf("watch %q: poll_interval_ms %d is below the 1000ms minimum", w.Name, w.PollIntervalMs)
	}
	return nil
}

// Global holds engine-wide tuning options.
type Global struct {
	MaxRetryAttempts   int `yaml:"max_retry_attempts"`
	RetryDelayMs       int `yaml:"retry_delay_ms"`
	ProcessingBudgetMs int `yaml:"processing_budget_ms"`
}

// RetryDelay returns the retry base delay as a duration.
func (g Global) RetryDelay() time.Duration {
	return time.Duration(g.RetryDelayMs) * time.Millisecond
}

// ProcessingBudget returns the per-job processing budget as a duration.
func (g Global) ProcessingBudget() time.Duration {
	return time.Duration(g.ProcessingBudgetMs) * time.Millisecond
}

// Database configures the relational sink.
type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Webhook configures one alert destination.
type Webhook struct {
	URL     string            `yaml:"url"`
	Format  string            `yaml:"format"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

// Config is the root daemon configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	StateDir string        `yaml:"state_dir"`
	AuditLog string        `yaml:"audit_log"`
	HTTPAddr string        `yaml:"http_addr"`
	Database Database      `yaml:"database"`
	Global   Global        `yaml:"global"`
	Alerts   []Webhook     `yaml:"alerts"`
	Watches  []WatchConfig `yaml:"watches"`
}

// Default returns the built-in configuration before any file overlay.
func Default() *Config {
	stateDir := "~/.filedrop"
	return &Config{
		LogLevel: "info",
		StateDir: stateDir,
		HTTPAddr: DefaultHTTPAddr,
		Database: Database{
			Driver: "sqlite",
			DSN:    filepath.Join(stateDir, "filedrop.db"),
		},
		Global: Global{
			MaxRetryAttempts:   DefaultMaxRetryAttempts,
			RetryDelayMs:       DefaultRetryDelayMs,
			ProcessingBudgetMs: DefaultProcessingBudgetMs,
		},
	}
}

// AuditLogPath resolves the audit log location, defaulting under the
// state directory.
func (c *Config) AuditLogPath() string {
	if c.AuditLog != "" {
		return c.AuditLog
	}
	return filepath.Join(c.StateDir, "audit.jsonl")
}

// Validate checks the whole configuration, including uniqueness of watch
// names and the global bounds.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.Global.MaxRetryAttempts < 1 {
		return fmt.Errorf("global.max_retry_attempts %d must be >= 1", c.Global.MaxRetryAttempts)
	}
	if c.Global.RetryDelayMs < 100 {
		return fmt.Errorf("global.retry_delay_ms %d must be >= 100", c.Global.RetryDelayMs)
	}
	if c.Global.ProcessingBudgetMs < 1000 {
		return fmt.Errorf("global.processing_budget_ms %d must be >= 1000", c.Global.ProcessingBudgetMs)
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database.driver is required")
	}
	for _, wh := range c.Alerts {
		if wh.URL == "" {
			return fmt.Errorf("alert webhook with empty url")
		}
	}

	seen := make(map[string]bool, len(c.Watches))
	for i := range c.Watches {
		w := &c.Watches[i]
		if err := w.Validate(); err != nil {
			return err
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate watch name %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// expandPaths rewrites all home-relative paths in place.
func (c *Config) expandPaths() {
	c.StateDir = ExpandHome(c.StateDir)
	c.AuditLog = ExpandHome(c.AuditLog)
	c.Database.DSN = ExpandHome(c.Database.DSN)
	for i := range c.Watches {
		w := &c.Watches[i]
		w.WatchDir = ExpandHome(w.WatchDir)
		w.CompletedDir = ExpandHome(w.CompletedDir)
		w.ErrorDir = ExpandHome(w.ErrorDir)
	}
}
