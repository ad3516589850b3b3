// SPDX-License-Identifier: MIT
// Package config handles loading, saving, and resolving the RepoSync
// configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	// LocalConfigFilename is the per-directory RepoSync config file.
	LocalConfigFilename = ".reposync.yaml"
	// ConfigAPIVersion is the current config schema apiVersion.
	ConfigAPIVersion = "skaphos.io/reposync/v1beta1"
	// ConfigKind is the current config schema kind.
	ConfigKind = "RepoSyncConfig"
	// ConfigEnv overrides the config file or directory location.
	ConfigEnv = "REPOSYNC_CONFIG"

	defaultStoreFile = "store.yaml"
	tempDirName      = ".git-sync-temp"
)

// GitConfig controls how the git binary is driven.
type GitConfig struct {
	Binary string `yaml:"binary"`
	// CloneDepth limits clone history. Zero selects the default of 1 and a
	// negative value clones the full history.
	CloneDepth int `yaml:"clone_depth"`
	// CredentialMode is "helper" (environment-scoped credential helper) or
	// "url" (credentials embedded in remote URLs).
	CredentialMode string `yaml:"credential_mode"`
	AuthorName     string `yaml:"author_name"`
	AuthorEmail    string `yaml:"author_email"`
}

// SyncConfig bounds individual sync and preview calls.
type SyncConfig struct {
	TimeoutSeconds      int           `yaml:"timeout_seconds"`
	PreviewCleanupDelay time.Duration `yaml:"preview_cleanup_delay"`
}

// SchedulerConfig controls the cron scheduler in "serve".
type SchedulerConfig struct {
	Enabled    bool `yaml:"enabled"`
	WatchStore bool `yaml:"watch_store"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig selects log level and format ("text" or "json").
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecretsConfig locates the passphrase used to encrypt stored tokens.
type SecretsConfig struct {
	KeyEnv         string `yaml:"key_env"`
	KeyringService string `yaml:"keyring_service"`
}

// Config represents the RepoSync configuration.
type Config struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	StorePath  string          `yaml:"store_path"`
	TempDir    string          `yaml:"temp_dir,omitempty"`
	Git        GitConfig       `yaml:"git"`
	Sync       SyncConfig      `yaml:"sync"`
	Scheduler  SchedulerConfig `yaml:"scheduler"`
	Server     ServerConfig    `yaml:"server"`
	Logging    LoggingConfig   `yaml:"logging"`
	Secrets    SecretsConfig   `yaml:"secrets"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		APIVersion: ConfigAPIVersion,
		Kind:       ConfigKind,
		StorePath:  defaultStoreFile,
		Git: GitConfig{
			Binary:         "git",
			CloneDepth:     1,
			CredentialMode: "helper",
			AuthorName:     "RepoSync",
			AuthorEmail:    "reposync@localhost",
		},
		Sync: SyncConfig{
			TimeoutSeconds:      600,
			PreviewCleanupDelay: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			WatchStore: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Secrets: SecretsConfig{
			KeyEnv:         "REPOSYNC_ENCRYPTION_KEY",
			KeyringService: "reposync",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory path.
// It checks, in order: the override parameter, REPOSYNC_CONFIG env var,
// and finally os.UserConfigDir()/reposync.
func ConfigDir(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return filepath.Dir(override), nil
		}
		return override, nil
	}

	if env := os.Getenv(ConfigEnv); env != "" {
		if isConfigFilePath(env) {
			return filepath.Dir(env), nil
		}
		return env, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "reposync"), nil
}

// ConfigPath resolves the config file path from override/env/defaults.
func ConfigPath(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return override, nil
		}
		return filepath.Join(override, "config.yaml"), nil
	}

	if env := os.Getenv(ConfigEnv); env != "" {
		if isConfigFilePath(env) {
			return env, nil
		}
		return filepath.Join(env, "config.yaml"), nil
	}

	dir, err := ConfigDir("")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// InitConfigPath resolves where "reposync init" should write config.
// Order: explicit override, REPOSYNC_CONFIG, then local dotfile in cwd.
func InitConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(ConfigEnv) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(cwd, LocalConfigFilename), nil
}

// ResolveConfigPath resolves config for runtime commands.
// Order: explicit override, REPOSYNC_CONFIG, nearest local dotfile in cwd/parents,
// then global platform config path.
func ResolveConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(ConfigEnv) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	localPath, err := FindNearestConfigPath(cwd)
	if err != nil {
		return "", err
	}
	if localPath != "" {
		return localPath, nil
	}

	return ConfigPath("")
}

// FindNearestConfigPath searches cwd and each parent directory for .reposync.yaml.
// It returns an empty string when no local config file is found.
func FindNearestConfigPath(cwd string) (string, error) {
	dir := cwd
	for {
		candidate := filepath.Join(dir, LocalConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file from the given path. ${VAR} placeholders are
// replaced with environment values before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		return []byte(os.Getenv(string(envVarPattern.FindSubmatch(match)[1])))
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyConfigGVK(&cfg)
	if err := validateConfigGVK(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.StorePath = ResolveStorePath(path, cfg.StorePath)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.StorePath) == "" {
		cfg.StorePath = defaults.StorePath
	}
	if cfg.Git.Binary == "" {
		cfg.Git.Binary = defaults.Git.Binary
	}
	if cfg.Git.CloneDepth == 0 {
		cfg.Git.CloneDepth = defaults.Git.CloneDepth
	}
	if cfg.Git.CredentialMode == "" {
		cfg.Git.CredentialMode = defaults.Git.CredentialMode
	}
	if cfg.Sync.TimeoutSeconds == 0 {
		cfg.Sync.TimeoutSeconds = defaults.Sync.TimeoutSeconds
	}
	if cfg.Sync.PreviewCleanupDelay == 0 {
		cfg.Sync.PreviewCleanupDelay = defaults.Sync.PreviewCleanupDelay
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Secrets.KeyEnv == "" {
		cfg.Secrets.KeyEnv = defaults.Secrets.KeyEnv
	}
	if cfg.Secrets.KeyringService == "" {
		cfg.Secrets.KeyringService = defaults.Secrets.KeyringService
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Git.CredentialMode {
	case "helper", "url":
	default:
		errs = append(errs, fmt.Errorf("unsupported git.credential_mode %q (expected helper or url)", c.Git.CredentialMode))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported logging.format %q (expected text or json)", c.Logging.Format))
	}
	if c.Sync.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("sync.timeout_seconds must not be negative"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ResolveStorePath resolves store_path against the config file location.
// Absolute paths are returned unchanged; relative paths are joined to the
// directory containing configPath.
func ResolveStorePath(configPath, storePath string) string {
	if strings.TrimSpace(storePath) == "" {
		return ""
	}
	if filepath.IsAbs(storePath) || strings.TrimSpace(configPath) == "" {
		return filepath.Clean(storePath)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configPath), storePath))
}

// TempRoot returns the directory under which working copies are created.
func (c *Config) TempRoot() string {
	if strings.TrimSpace(c.TempDir) != "" {
		return filepath.Clean(c.TempDir)
	}
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "reposync", tempDirName)
	}
	return filepath.Join(os.TempDir(), tempDirName)
}

// EffectiveCloneDepth maps the configured depth to a clone --depth value,
// where 0 means full history.
func (c *Config) EffectiveCloneDepth() int {
	if c.Git.CloneDepth < 0 {
		return 0
	}
	return c.Git.CloneDepth
}

// Timeout returns the per-call deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Save writes the config to the given path.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	applyConfigGVK(cfg)
	if err := validateConfigGVK(cfg); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isConfigFilePath(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, "config.yaml") || strings.HasSuffix(lower, "config.yml") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func applyConfigGVK(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = ConfigAPIVersion
	}
	if strings.TrimSpace(cfg.Kind) == "" {
		cfg.Kind = ConfigKind
	}
}

func validateConfigGVK(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.APIVersion != ConfigAPIVersion {
		return fmt.Errorf("unsupported config apiVersion %q (expected %q)", cfg.APIVersion, ConfigAPIVersion)
	}
	if cfg.Kind != ConfigKind {
		return fmt.Errorf("unsupported config kind %q (expected %q)", cfg.Kind, ConfigKind)
	}
	return nil
}
