// Package env consolidates all environment variable reading for the application.
// Config overrides are applied only at startup (see config.Load).
package env

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	LOGLevel       = "ARCVFS_LOG_LEVEL"
	LOGFile        = "ARCVFS_LOG_FILE"
	ConfigPath     = "ARCVFS_CONFIG"
	TempDir        = "ARCVFS_TEMP_DIR"
	SpillThreshold = "ARCVFS_SPILL_THRESHOLD"
	MaxEntries     = "ARCVFS_MAX_ENTRIES"
	ConflictPolicy = "ARCVFS_CONFLICT_POLICY"
	Nested         = "ARCVFS_NESTED"
	MaxDepth       = "ARCVFS_MAX_DEPTH"
	Sniff          = "ARCVFS_SNIFF"
	Password       = "ARCVFS_PASSWORD"
)

// Config JSON keys returned by ReadConfigOverrides
const (
	KeyLogLevel       = "log_level"
	KeyLogFile        = "log_file"
	KeyTempDir        = "temp_dir"
	KeySpillThreshold = "spill_threshold"
	KeyMaxEntries     = "max_entries"
	KeyConflictPolicy = "conflict_policy"
	KeyNested         = "nested_archives"
	KeyMaxDepth       = "max_nesting_depth"
	KeySniff          = "sniff_content"
	KeyPassword       = "password"
)

// LogLevel returns ARCVFS_LOG_LEVEL with default "INFO" (for early logger init before config).
func LogLevel() string {
	return getEnv(LOGLevel, "INFO")
}

// ConfigFile returns ARCVFS_CONFIG, or "" when unset.
func ConfigFile() string {
	return os.Getenv(ConfigPath)
}

// ConfigOverrides holds all config values that can be set via environment variables.
type ConfigOverrides struct {
	LogLevel       string
	LogFile        string
	TempDir        string
	SpillThreshold int64
	MaxEntries     int
	ConflictPolicy string
	Nested         bool
	MaxDepth       int
	Sniff          bool
	Password       string
}

// ReadConfigOverrides reads all relevant environment variables once and returns
// overrides to apply to config plus the list of config JSON keys that were set.
func ReadConfigOverrides() (ConfigOverrides, []string) {
	var o ConfigOverrides
	var keys []string

	if v := os.Getenv(LOGLevel); v != "" {
		o.LogLevel = v
		keys = append(keys, KeyLogLevel)
	}
	if v := os.Getenv(LOGFile); v != "" {
		o.LogFile = v
		keys = append(keys, KeyLogFile)
	}
	if v := os.Getenv(TempDir); v != "" {
		o.TempDir = v
		keys = append(keys, KeyTempDir)
	}
	if v := os.Getenv(SpillThreshold); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			o.SpillThreshold = n
			keys = append(keys, KeySpillThreshold)
		}
	}
	if v := os.Getenv(MaxEntries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxEntries = n
			keys = append(keys, KeyMaxEntries)
		}
	}
	if v := os.Getenv(ConflictPolicy); v != "" {
		o.ConflictPolicy = strings.ToLower(v)
		keys = append(keys, KeyConflictPolicy)
	}
	if os.Getenv(Nested) != "" {
		o.Nested = getEnvBool(Nested, true)
		keys = append(keys, KeyNested)
	}
	if v := os.Getenv(MaxDepth); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxDepth = n
			keys = append(keys, KeyMaxDepth)
		}
	}
	if os.Getenv(Sniff) != "" {
		o.Sniff = getEnvBool(Sniff, false)
		keys = append(keys, KeySniff)
	}
	// Password is taken verbatim, including surrounding spaces.
	if v, ok := os.LookupEnv(Password); ok {
		o.Password = v
		keys = append(keys, KeyPassword)
	}

	return o, keys
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(v) == "true" || v == "1"
	}
	return defaultVal
}
