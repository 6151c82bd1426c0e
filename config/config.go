// Package config provides CLI configuration management for the teamdesk command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/db"
	"github.com/otherjamesbrown/teamdesk/pkg/presence"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// BackendKind selects the backend adapter.
type BackendKind string

const (
	BackendMemory   BackendKind = "memory"
	BackendPostgres BackendKind = "postgres"
	BackendSupabase BackendKind = "supabase"
)

// Default configuration values.
const (
	DefaultBackend         = BackendSupabase
	DefaultTimeout         = backend.DefaultCallTimeout
	DefaultOutputFormat    = OutputFormatText
	DefaultConfigDir       = ".teamdesk"
	DefaultConfigFile      = "config.yaml"
	DefaultSuggestionLimit = 5
	DefaultHeartbeat       = 20 * time.Second
)

// SupabaseConfig identifies the hosted project.
type SupabaseConfig struct {
	URL    string `yaml:"url,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
}

// IsConfigured reports whether both URL and key are set.
func (c SupabaseConfig) IsConfigured() bool {
	return c.URL != "" && c.APIKey != ""
}

// DatabaseConfig holds direct PostgreSQL settings. They back the postgres
// backend, the change feed listener and `db` commands.
type DatabaseConfig struct {
	URL      string `yaml:"url,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
	MaxConns int32  `yaml:"max_conns,omitempty"`
}

// IsConfigured reports whether enough is set to reach a database.
func (c DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || c.Host != ""
}

// DBConfig overlays the settings on the pool defaults, then applies
// TEAMDESK_DB_* environment variables.
func (c DatabaseConfig) DBConfig() *db.Config {
	out := db.DefaultConfig()
	if c.URL != "" {
		out.URL = c.URL
	}
	if c.Host != "" {
		out.Host = c.Host
	}
	if c.Port != 0 {
		out.Port = c.Port
	}
	if c.Database != "" {
		out.Database = c.Database
	}
	if c.User != "" {
		out.User = c.User
	}
	if c.Password != "" {
		out.Password = c.Password
	}
	if c.SSLMode != "" {
		out.SSLMode = c.SSLMode
	}
	if c.MaxConns > 0 {
		out.MaxConns = c.MaxConns
	}
	return out.ApplyEnv()
}

// PresenceConfig configures the online badge.
type PresenceConfig struct {
	Topic     string        `yaml:"topic,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
}

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Disabled         bool          `yaml:"disabled,omitempty"`
	FailureThreshold float64       `yaml:"failure_threshold,omitempty"`
	MinRequests      uint32        `yaml:"min_requests,omitempty"`
	OpenTimeout      time.Duration `yaml:"open_timeout,omitempty"`
}

// Backend converts the settings into the guard's breaker config. A
// disabled breaker has no name.
func (c BreakerConfig) Backend() backend.BreakerConfig {
	if c.Disabled {
		return backend.BreakerConfig{}
	}
	out := backend.DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.MinRequests > 0 {
		out.MinRequests = c.MinRequests
	}
	if c.OpenTimeout > 0 {
		out.Timeout = c.OpenTimeout
	}
	return out
}

// CLIConfig holds the CLI configuration settings.
type CLIConfig struct {
	// Backend selects the adapter: memory, postgres or supabase.
	Backend BackendKind `yaml:"backend"`

	// Timeout bounds every backend call.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// LogJSON switches the logger from console to JSON output.
	LogJSON bool `yaml:"log_json,omitempty"`

	// SuggestionLimit caps the mention suggestion list.
	SuggestionLimit int `yaml:"suggestion_limit,omitempty"`

	Supabase SupabaseConfig       `yaml:"supabase,omitempty"`
	Database DatabaseConfig       `yaml:"database,omitempty"`
	Redis    presence.RedisConfig `yaml:"redis,omitempty"`
	Presence PresenceConfig       `yaml:"presence,omitempty"`
	Breaker  BreakerConfig        `yaml:"breaker,omitempty"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Backend:         DefaultBackend,
		Timeout:         DefaultTimeout,
		OutputFormat:    DefaultOutputFormat,
		SuggestionLimit: DefaultSuggestionLimit,
		Presence: PresenceConfig{
			Topic:     presence.DefaultTopic,
			TTL:       presence.DefaultTTL,
			Heartbeat: DefaultHeartbeat,
		},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TEAMDESK_CONFIG_DIR if set, otherwise ~/.teamdesk
func ConfigDir() (string, error) {
	if dir := os.Getenv("TEAMDESK_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the CLI configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.teamdesk/config.yaml or $TEAMDESK_CONFIG_DIR/config.yaml)
// 3. Environment variables (TEAMDESK_BACKEND, TEAMDESK_TIMEOUT, ...)
func LoadConfig() (*CLIConfig, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadConfigFrom(configPath)
}

// LoadConfigFrom is LoadConfig with an explicit file path. A missing file
// is not an error.
func LoadConfigFrom(path string) (*CLIConfig, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile is the on-disk shape: durations are strings.
type configFile struct {
	Backend         BackendKind          `yaml:"backend,omitempty"`
	Timeout         string               `yaml:"timeout,omitempty"`
	OutputFormat    OutputFormat         `yaml:"output_format,omitempty"`
	Debug           bool                 `yaml:"debug,omitempty"`
	LogJSON         bool                 `yaml:"log_json,omitempty"`
	SuggestionLimit int                  `yaml:"suggestion_limit,omitempty"`
	Supabase        SupabaseConfig       `yaml:"supabase,omitempty"`
	Database        DatabaseConfig       `yaml:"database,omitempty"`
	Redis           presence.RedisConfig `yaml:"redis,omitempty"`
	Presence        struct {
		Topic     string `yaml:"topic,omitempty"`
		TTL       string `yaml:"ttl,omitempty"`
		Heartbeat string `yaml:"heartbeat,omitempty"`
	} `yaml:"presence,omitempty"`
	Breaker struct {
		Disabled         bool    `yaml:"disabled,omitempty"`
		FailureThreshold float64 `yaml:"failure_threshold,omitempty"`
		MinRequests      uint32  `yaml:"min_requests,omitempty"`
		OpenTimeout      string  `yaml:"open_timeout,omitempty"`
	} `yaml:"breaker,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	duration := func(name, v string, dst *time.Duration) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", name, err)
		}
		*dst = d
		return nil
	}

	if fileCfg.Backend != "" {
		cfg.Backend = fileCfg.Backend
	}
	if err := duration("timeout", fileCfg.Timeout, &cfg.Timeout); err != nil {
		return err
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	if fileCfg.SuggestionLimit != 0 {
		cfg.SuggestionLimit = fileCfg.SuggestionLimit
	}
	cfg.Debug = fileCfg.Debug
	cfg.LogJSON = fileCfg.LogJSON
	cfg.Supabase = fileCfg.Supabase
	cfg.Database = fileCfg.Database
	cfg.Redis = fileCfg.Redis

	if fileCfg.Presence.Topic != "" {
		cfg.Presence.Topic = fileCfg.Presence.Topic
	}
	if err := duration("presence.ttl", fileCfg.Presence.TTL, &cfg.Presence.TTL); err != nil {
		return err
	}
	if err := duration("presence.heartbeat", fileCfg.Presence.Heartbeat, &cfg.Presence.Heartbeat); err != nil {
		return err
	}

	cfg.Breaker.Disabled = fileCfg.Breaker.Disabled
	cfg.Breaker.FailureThreshold = fileCfg.Breaker.FailureThreshold
	cfg.Breaker.MinRequests = fileCfg.Breaker.MinRequests
	return duration("breaker.open_timeout", fileCfg.Breaker.OpenTimeout, &cfg.Breaker.OpenTimeout)
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *CLIConfig) {
	if v := os.Getenv("TEAMDESK_BACKEND"); v != "" {
		cfg.Backend = BackendKind(v)
	}

	if v := os.Getenv("TEAMDESK_TIMEOUT"); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv("TEAMDESK_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if envBool("TEAMDESK_DEBUG") {
		cfg.Debug = true
	}
	if envBool("TEAMDESK_LOG_JSON") {
		cfg.LogJSON = true
	}

	if v := os.Getenv("TEAMDESK_SUGGESTION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SuggestionLimit = n
		}
	}

	// Supabase environment variables.
	if v := os.Getenv("TEAMDESK_SUPABASE_URL"); v != "" {
		cfg.Supabase.URL = v
	}
	if v := os.Getenv("TEAMDESK_SUPABASE_KEY"); v != "" {
		cfg.Supabase.APIKey = v
	}

	// Redis environment variables.
	if v := os.Getenv("TEAMDESK_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("TEAMDESK_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TEAMDESK_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TEAMDESK_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("TEAMDESK_PRESENCE_TOPIC"); v != "" {
		cfg.Presence.Topic = v
	}
	if v := os.Getenv("TEAMDESK_PRESENCE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Presence.TTL = ttl
		}
	}

	if envBool("TEAMDESK_BREAKER_DISABLED") {
		cfg.Breaker.Disabled = true
	}
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if !c.Backend.IsValid() {
		return fmt.Errorf("invalid backend: %q (must be memory, postgres, or supabase)", c.Backend)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	if c.SuggestionLimit < 1 {
		return fmt.Errorf("suggestion_limit must be at least 1")
	}

	if c.Presence.Topic == "" {
		return fmt.Errorf("presence.topic is required")
	}
	if c.Presence.Heartbeat > 0 && c.Presence.TTL > 0 && c.Presence.Heartbeat >= c.Presence.TTL {
		return fmt.Errorf("presence.heartbeat (%s) must be shorter than presence.ttl (%s)", c.Presence.Heartbeat, c.Presence.TTL)
	}

	if c.Breaker.FailureThreshold < 0 || c.Breaker.FailureThreshold > 1 {
		return fmt.Errorf("breaker.failure_threshold must be between 0 and 1")
	}

	return nil
}

// RedisConfigured reports whether presence should go through Redis.
func (c *CLIConfig) RedisConfigured() bool {
	return c.Redis.URL != "" || c.Redis.Addr != ""
}

// IsValid checks if the backend kind is known.
func (k BackendKind) IsValid() bool {
	switch k {
	case BackendMemory, BackendPostgres, BackendSupabase:
		return true
	default:
		return false
	}
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *CLIConfig) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	var fileCfg configFile
	fileCfg.Backend = cfg.Backend
	fileCfg.Timeout = cfg.Timeout.String()
	fileCfg.OutputFormat = cfg.OutputFormat
	fileCfg.Debug = cfg.Debug
	fileCfg.LogJSON = cfg.LogJSON
	fileCfg.SuggestionLimit = cfg.SuggestionLimit
	fileCfg.Supabase = cfg.Supabase
	fileCfg.Database = cfg.Database
	fileCfg.Redis = cfg.Redis
	fileCfg.Presence.Topic = cfg.Presence.Topic
	if cfg.Presence.TTL > 0 {
		fileCfg.Presence.TTL = cfg.Presence.TTL.String()
	}
	if cfg.Presence.Heartbeat > 0 {
		fileCfg.Presence.Heartbeat = cfg.Presence.Heartbeat.String()
	}
	fileCfg.Breaker.Disabled = cfg.Breaker.Disabled
	fileCfg.Breaker.FailureThreshold = cfg.Breaker.FailureThreshold
	fileCfg.Breaker.MinRequests = cfg.Breaker.MinRequests
	if cfg.Breaker.OpenTimeout > 0 {
		fileCfg.Breaker.OpenTimeout = cfg.Breaker.OpenTimeout.String()
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
