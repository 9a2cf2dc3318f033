package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arcvfs/pkg/arcfs"
	"arcvfs/pkg/env"
	"arcvfs/pkg/logger"
	"arcvfs/pkg/paths"
)

const (
	PolicySkip = "skip"
	PolicyFail = "fail"
)

// Config holds application configuration
type Config struct {
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Spill store
	TempDir        string `json:"temp_dir"`
	SpillThreshold int64  `json:"spill_threshold"` // bytes kept in memory before spilling to TempDir

	// Tree building
	MaxEntries      int    `json:"max_entries"`
	ConflictPolicy  string `json:"conflict_policy"` // "skip" or "fail"
	NestedArchives  bool   `json:"nested_archives"`
	MaxNestingDepth int    `json:"max_nesting_depth"`
	SniffContent    bool   `json:"sniff_content"`

	// Never written to disk
	Password string `json:"-"`

	// Internal - where was this config loaded from?
	LoadedPath string `json:"-"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		LogLevel:        "INFO",
		TempDir:         paths.GetTempDir(),
		SpillThreshold:  4 << 20,
		MaxEntries:      1_000_000,
		ConflictPolicy:  PolicySkip,
		NestedArchives:  true,
		MaxNestingDepth: 4,
	}
}

// Load is intended for startup only. It reads path (or ARCVFS_CONFIG, or
// config.json in the data directory), then applies environment overrides.
// A missing file is not an error.
// Priority: Environment variables (if not empty) > config file > defaults
func Load(path string) (*Config, error) {
	if path == "" {
		path = env.ConfigFile()
	}
	if path == "" {
		path = filepath.Join(paths.GetDataDir(), "config.json")
	}

	cfg := Default()
	cfg.LoadedPath = path

	if err := cfg.LoadFile(path); err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No config found, using defaults", "path", path)
		} else {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else {
		logger.Info("Loaded configuration", "path", path)
	}

	overrides, keys := env.ReadConfigOverrides()
	ApplyEnvOverrides(cfg, overrides, keys)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overrides config with values from a JSON file
func (c *Config) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(c); err != nil {
		return err
	}
	return nil
}

// Save saves the current configuration to the file it was loaded from
func (c *Config) Save() error {
	path := c.LoadedPath
	if path == "" {
		path = "config.json"
	}
	return c.SaveFile(path)
}

// SaveFile saves the current configuration to a JSON file
func (c *Config) SaveFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}

// Validate rejects values the archive layer cannot honour.
func (c *Config) Validate() error {
	c.ConflictPolicy = strings.ToLower(strings.TrimSpace(c.ConflictPolicy))
	switch c.ConflictPolicy {
	case "":
		c.ConflictPolicy = PolicySkip
	case PolicySkip, PolicyFail:
	default:
		return fmt.Errorf("invalid conflict_policy %q (want %q or %q)", c.ConflictPolicy, PolicySkip, PolicyFail)
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries must not be negative, got %d", c.MaxEntries)
	}
	if c.MaxNestingDepth < 0 {
		return fmt.Errorf("max_nesting_depth must not be negative, got %d", c.MaxNestingDepth)
	}
	return nil
}

// ArchiveOptions converts the configuration into options for arcfs.
func (c *Config) ArchiveOptions() []arcfs.Option {
	policy := arcfs.ConflictSkip
	if c.ConflictPolicy == PolicyFail {
		policy = arcfs.ConflictFail
	}
	opts := []arcfs.Option{
		arcfs.WithConflictPolicy(policy),
		arcfs.WithMaxEntries(c.MaxEntries),
		arcfs.WithNesting(c.NestedArchives, c.MaxNestingDepth),
		arcfs.WithSpill(nil, c.TempDir, c.SpillThreshold),
	}
	if c.Password != "" {
		opts = append(opts, arcfs.WithPassword(c.Password))
	}
	return opts
}

// keySet returns true if s is in list.
func keySet(list []string, s string) bool {
	for _, k := range list {
		if k == s {
			return true
		}
	}
	return false
}

// ApplyEnvOverrides applies environment-derived overrides to cfg (used at startup only).
// Only fields present in keys are applied, so env vars override file values per setting.
func ApplyEnvOverrides(cfg *Config, o env.ConfigOverrides, keys []string) {
	if keySet(keys, env.KeyLogLevel) {
		cfg.LogLevel = o.LogLevel
	}
	if keySet(keys, env.KeyLogFile) {
		cfg.LogFile = o.LogFile
	}
	if keySet(keys, env.KeyTempDir) {
		cfg.TempDir = o.TempDir
	}
	if keySet(keys, env.KeySpillThreshold) {
		cfg.SpillThreshold = o.SpillThreshold
	}
	if keySet(keys, env.KeyMaxEntries) {
		cfg.MaxEntries = o.MaxEntries
	}
	if keySet(keys, env.KeyConflictPolicy) {
		cfg.ConflictPolicy = o.ConflictPolicy
	}
	if keySet(keys, env.KeyNested) {
		cfg.NestedArchives = o.Nested
	}
	if keySet(keys, env.KeyMaxDepth) {
		cfg.MaxNestingDepth = o.MaxDepth
	}
	if keySet(keys, env.KeySniff) {
		cfg.SniffContent = o.Sniff
	}
	if keySet(keys, env.KeyPassword) {
		cfg.Password = o.Password
	}
}
