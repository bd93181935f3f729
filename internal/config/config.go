// Package config loads engine-wide settings through viper, following the
// same project-then-home-then-default discovery order the teacher's CLI
// uses for its own config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/elemental-run/elemental/internal/errs"
)

var v *viper.Viper

// Config mirrors the recognized keys of the engine's config surface.
// Fields are populated from the layered viper instance after Initialize.
type Config struct {
	Database string
	Actor    string

	SyncAutoExport        bool
	SyncElementsFile      string
	SyncDependenciesFile  string
	SyncExportDebounceSec int

	PlaybookPaths []string

	IdentityMode string // "soft" | "strict"

	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Initialize sets up the viper configuration singleton. Should be called
// once at application startup, before any Get* accessor or Load.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("config")

	configFileSet := false

	// 1. Walk up from CWD to find project .elemental/config.yaml.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".elemental", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. $ELEMENTAL_CONFIG, an explicit override path.
	if !configFileSet {
		if path := os.Getenv("ELEMENTAL_CONFIG"); path != "" {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// 3. User config directory (~/.config/elemental/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "elemental", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("ELEMENTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database", ".elemental/elements.db")
	v.SetDefault("actor", "")
	v.SetDefault("sync.autoExport", false)
	v.SetDefault("sync.elementsFile", ".elemental/elements.jsonl")
	v.SetDefault("sync.dependenciesFile", ".elemental/dependencies.jsonl")
	v.SetDefault("sync.exportDebounce", 30)
	v.SetDefault("playbooks.paths", []string{".elemental/playbooks"})
	v.SetDefault("identity.mode", "soft")
	v.SetDefault("log.path", ".elemental/elemental.log")
	v.SetDefault("log.maxSizeMB", 10)
	v.SetDefault("log.maxBackups", 5)
	v.SetDefault("log.maxAgeDays", 28)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	return Validate()
}

// Validate checks every recognized key against its expected type and
// range, failing with a VALIDATION error naming the offending path.
// Unknown keys are left alone: spec.md requires they be ignored with a
// warning, not rejected, since older config files may carry keys a newer
// binary doesn't recognize yet.
func Validate() error {
	if v == nil {
		return errs.Internal(nil, "config not initialized")
	}

	mode := v.GetString("identity.mode")
	if mode != "soft" && mode != "strict" {
		return errs.Validationf("identity.mode: must be \"soft\" or \"strict\", got %q", mode)
	}
	if debounce := v.GetInt("sync.exportDebounce"); debounce < 0 {
		return errs.Validationf("sync.exportDebounce: must be >= 0, got %d", debounce)
	}
	if v.GetString("database") == "" {
		return errs.Validation("database: must not be empty")
	}
	return nil
}

// Load returns the fully resolved Config. Initialize must have been
// called first.
func Load() (*Config, error) {
	if v == nil {
		return nil, errs.Internal(nil, "config not initialized")
	}
	return &Config{
		Database:              v.GetString("database"),
		Actor:                 v.GetString("actor"),
		SyncAutoExport:        v.GetBool("sync.autoExport"),
		SyncElementsFile:      v.GetString("sync.elementsFile"),
		SyncDependenciesFile:  v.GetString("sync.dependenciesFile"),
		SyncExportDebounceSec: v.GetInt("sync.exportDebounce"),
		PlaybookPaths:         v.GetStringSlice("playbooks.paths"),
		IdentityMode:          v.GetString("identity.mode"),
		LogPath:               v.GetString("log.path"),
		LogMaxSizeMB:          v.GetInt("log.maxSizeMB"),
		LogMaxBackups:         v.GetInt("log.maxBackups"),
		LogMaxAgeDays:         v.GetInt("log.maxAgeDays"),
	}, nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice configuration value.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	return v.GetStringSlice(key)
}

// Set overrides a configuration value, used by tests and flag binding.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// GetIdentity resolves the actor identity used to stamp created/updated
// fields: an explicit flag value takes precedence, then config/env, then
// the machine's host name.
func GetIdentity(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	if u, err := os.Hostname(); err == nil && u != "" {
		return u
	}
	return "unknown"
}
