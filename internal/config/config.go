// Package config handles loading and merging configuration files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

const (
	// EnvConfig names an explicit config file that wins over local and global.
	EnvConfig = "WARD_CONFIG"
	// EnvRoot overrides the root boundary.
	EnvRoot = "WARD_ROOT"

	localFileName = ".ward.yml"
)

// Config represents the ward configuration.
type Config struct {
	Version    int          `yaml:"version"`
	Root       string       `yaml:"root"`
	PolicyFile string       `yaml:"policy_file"`
	Cache      CacheConfig  `yaml:"cache"`
	Ledger     LedgerConfig `yaml:"ledger"`
	Log        LogConfig    `yaml:"log"`
	Audit      AuditConfig  `yaml:"audit"`
	Hook       HookConfig   `yaml:"hook"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

// CacheConfig controls the resolution cache.
type CacheConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Size        int    `yaml:"size"`
	Fingerprint string `yaml:"fingerprint"` // content or mtime
	Watch       *bool  `yaml:"watch"`
}

// LedgerConfig controls annotation ledger locking.
type LedgerConfig struct {
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuditConfig controls the decision audit trail.
type AuditConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Output  string `yaml:"output"` // stderr, stdout or a file path; empty is the state-dir log
}

// HookConfig controls the agent tool-call hook.
type HookConfig struct {
	WriteTools         []string `yaml:"write_tools"`
	ProtectPolicyFiles *bool    `yaml:"protect_policy_files"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:    1,
		Root:       "/",
		PolicyFile: ".ward",
		Cache: CacheConfig{
			Enabled:     boolPtr(true),
			Size:        256,
			Fingerprint: "content",
			Watch:       boolPtr(false),
		},
		Ledger: LedgerConfig{
			LockTimeout:  2 * time.Second,
			PollInterval: 25 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Audit: AuditConfig{
			Enabled: boolPtr(true),
		},
		Hook: HookConfig{
			WriteTools:         []string{"Write", "Edit", "NotebookEdit", "MultiEdit"},
			ProtectPolicyFiles: boolPtr(true),
		},
	}
}

// Load loads configuration. WARD_CONFIG, when set, names the only file read.
// Otherwise, if local config exists, it is used exclusively, else global
// config is used. WARD_ROOT is applied last.
func Load() (*Config, error) {
	cfg := Default()

	if explicit := os.Getenv(EnvConfig); explicit != "" {
		if err := cfg.loadFrom(explicit); err != nil {
			return nil, fmt.Errorf("load %s: %w", explicit, err)
		}
		return cfg.withEnv(), nil
	}

	// Check for local config first - if exists, use only local
	localPath := localConfigPath()
	if localPath != "" {
		if _, err := os.Stat(localPath); err == nil {
			if err := cfg.loadFrom(localPath); err != nil {
				return nil, fmt.Errorf("load %s: %w", localPath, err)
			}
			return cfg.withEnv(), nil
		}
	}

	// No local config - use global
	globalPath := globalConfigPath()
	if globalPath != "" {
		if err := cfg.loadFrom(globalPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", globalPath, err)
		}
	}

	return cfg.withEnv(), nil
}

// LoadFile loads a single file onto the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFrom(path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg.withEnv(), nil
}

func (c *Config) withEnv() *Config {
	if root := os.Getenv(EnvRoot); root != "" {
		c.Root = root
	}
	return c
}

// loadFrom loads and merges a config file into the current config.
func (c *Config) loadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	c.merge(&overlay)
	c.Source = path
	return nil
}

// merge applies overlay config onto the current config.
// Set values override defaults; lists are appended, not replaced.
func (c *Config) merge(overlay *Config) {
	if overlay.Version > 0 {
		c.Version = overlay.Version
	}
	c.Root = override(c.Root, overlay.Root)
	c.PolicyFile = override(c.PolicyFile, overlay.PolicyFile)

	if overlay.Cache.Enabled != nil {
		c.Cache.Enabled = overlay.Cache.Enabled
	}
	if overlay.Cache.Size > 0 {
		c.Cache.Size = overlay.Cache.Size
	}
	c.Cache.Fingerprint = override(c.Cache.Fingerprint, overlay.Cache.Fingerprint)
	if overlay.Cache.Watch != nil {
		c.Cache.Watch = overlay.Cache.Watch
	}

	if overlay.Ledger.LockTimeout > 0 {
		c.Ledger.LockTimeout = overlay.Ledger.LockTimeout
	}
	if overlay.Ledger.PollInterval > 0 {
		c.Ledger.PollInterval = overlay.Ledger.PollInterval
	}

	c.Log.Level = override(c.Log.Level, overlay.Log.Level)
	c.Log.Format = override(c.Log.Format, overlay.Log.Format)

	if overlay.Audit.Enabled != nil {
		c.Audit.Enabled = overlay.Audit.Enabled
	}
	c.Audit.Output = override(c.Audit.Output, overlay.Audit.Output)

	c.Hook.WriteTools = appendUnique(c.Hook.WriteTools, overlay.Hook.WriteTools)
	if overlay.Hook.ProtectPolicyFiles != nil {
		c.Hook.ProtectPolicyFiles = overlay.Hook.ProtectPolicyFiles
	}
}

// Validate rejects values the rest of ward cannot act on.
func (c *Config) Validate() error {
	if c.Root == "" || !filepath.IsAbs(c.Root) {
		return fmt.Errorf("%w: root %q must be an absolute path", ErrInvalid, c.Root)
	}
	if c.PolicyFile == "" || strings.ContainsRune(c.PolicyFile, filepath.Separator) {
		return fmt.Errorf("%w: policy_file %q must be a bare file name", ErrInvalid, c.PolicyFile)
	}
	switch c.Cache.Fingerprint {
	case "content", "mtime":
	default:
		return fmt.Errorf("%w: cache.fingerprint %q (want content or mtime)", ErrInvalid, c.Cache.Fingerprint)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("%w: cache.size must be positive", ErrInvalid)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalid, c.Log.Format)
	}
	return nil
}

// CacheEnabled reports whether resolution caching is on.
func (c *Config) CacheEnabled() bool { return isTrue(c.Cache.Enabled) }

// CacheWatch reports whether cached entries are evicted on file events.
func (c *Config) CacheWatch() bool { return isTrue(c.Cache.Watch) }

// AuditEnabled reports whether decisions are audited.
func (c *Config) AuditEnabled() bool { return isTrue(c.Audit.Enabled) }

// ProtectPolicyFiles reports whether the hook refuses writes to policy files.
func (c *Config) ProtectPolicyFiles() bool { return isTrue(c.Hook.ProtectPolicyFiles) }

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log.level %q", ErrInvalid, level)
}

func override(base, value string) string {
	if value != "" {
		return value
	}
	return base
}

func appendUnique(base, items []string) []string {
	seen := make(map[string]bool)
	for _, s := range base {
		seen[s] = true
	}
	result := base
	for _, s := range items {
		if !seen[s] {
			result = append(result, s)
			seen[s] = true
		}
	}
	return result
}

func boolPtr(b bool) *bool { return &b }

func isTrue(b *bool) bool { return b != nil && *b }

func globalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ward", "config.yml")
}

func localConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, localFileName)
}
