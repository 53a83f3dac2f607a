package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Console ConsoleConfig `yaml:"console"`
	Auth    AuthConfig    `yaml:"auth"`
	History HistoryConfig `yaml:"history"`
	Cache   CacheConfig   `yaml:"cache"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	UI      UIConfig      `yaml:"ui"`
}

// ConsoleConfig holds settings for the ops-console backend.
type ConsoleConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	// SendsPerMinute caps how fast messages may be appended; 0 disables the limit.
	SendsPerMinute int           `yaml:"sends_per_minute"`
	SendBurst      int           `yaml:"send_burst"`
	Breaker        BreakerConfig `yaml:"breaker"`
	Pool           PoolConfig    `yaml:"pool"`
}

// BreakerConfig holds circuit breaker settings for the append-message call.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// AuthConfig holds the credentials presented to the console backend.
// Token may carry an "enc:" prefix; see decryptSecrets.
type AuthConfig struct {
	Token    string `yaml:"token"`
	TenantID string `yaml:"tenant_id"`
}

// HistoryConfig holds the local completed-turn store settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CacheConfig holds the session/message list cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// UIConfig holds terminal UI settings.
type UIConfig struct {
	Markdown bool   `yaml:"markdown"`
	Theme    string `yaml:"theme"`
}

// defaultDataDir returns the persistent data directory under $HOME/.opsassist.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".opsassist")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Console: ConsoleConfig{
			BaseURL:        "http://localhost:8080/api",
			ConnTimeout:    10 * time.Second,
			RespTimeout:    30 * time.Second,
			SendsPerMinute: 30,
			SendBurst:      5,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		Cache: CacheConfig{
			TTL: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		UI: UIConfig{
			Markdown: true,
			Theme:    "dark",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error: defaults plus env vars apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("OPSASSIST_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps OPSASSIST_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSASSIST_CONSOLE_URL"); v != "" {
		cfg.Console.BaseURL = v
	}
	if v := os.Getenv("OPSASSIST_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("OPSASSIST_TENANT_ID"); v != "" {
		cfg.Auth.TenantID = v
	}
	if v := os.Getenv("OPSASSIST_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("OPSASSIST_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("OPSASSIST_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("OPSASSIST_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("OPSASSIST_HISTORY_ENABLED"); v == "false" {
		cfg.History.Enabled = false
	}
	if v := os.Getenv("OPSASSIST_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("OPSASSIST_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("OPSASSIST_SENDS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Console.SendsPerMinute = n
		}
	}
}

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	if cfg.Console.BaseURL == "" {
		return fmt.Errorf("console.base_url must not be empty")
	}
	if !strings.HasPrefix(cfg.Console.BaseURL, "http://") && !strings.HasPrefix(cfg.Console.BaseURL, "https://") {
		return fmt.Errorf("console.base_url must be an http(s) URL, got %q", cfg.Console.BaseURL)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	if cfg.Console.SendsPerMinute < 0 {
		return fmt.Errorf("console.sends_per_minute must be >= 0")
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.path must be set when history is enabled")
	}
	return nil
}

// decryptSecrets decrypts any "enc:"-prefixed secret values in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Auth.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Auth.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("auth token: %w", err)
		}
		cfg.Auth.Token = decrypted
	}
	return nil
}

// validatePermissions checks the config file has restrictive permissions.
// The file may carry a bearer token, so group/world write access is rejected.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
