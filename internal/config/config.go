package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Reconcile ReconcileConfig  `yaml:"reconcile"`
	Auth      AuthConfig       `yaml:"auth"`
	Storage   StorageConfig    `yaml:"storage"`
	Journal   JournalConfig    `yaml:"journal"`
	Events    EventsConfig     `yaml:"events"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
	Designers []DesignerConfig `yaml:"designers"` // Used when the backend lists no designers
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// GatewayConfig contains the backend webhook endpoints
type GatewayConfig struct {
	FetchURL     string        `yaml:"fetch_url"`
	CommandURL   string        `yaml:"command_url"`
	UploadURL    string        `yaml:"upload_url"` // Default: command_url
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// ReconcileConfig contains convergence and refresh settings
type ReconcileConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval"`   // Default: 10s
	PollAttempts          int           `yaml:"poll_attempts"`   // Default: 18
	ConflictPolicy        string        `yaml:"conflict_policy"` // reject, wait
	MaxUnmatchedRefreshes int           `yaml:"max_unmatched_refreshes"`
	RefreshInterval       time.Duration `yaml:"refresh_interval"` // 0 disables periodic refresh
	RefreshTimeout        time.Duration `yaml:"refresh_timeout"`
}

// AuthConfig contains session settings
type AuthConfig struct {
	SessionTTL        time.Duration `yaml:"session_ttl"`
	TrustSingleRecord bool          `yaml:"trust_single_record"`
	DesignerPassword  string        `yaml:"designer_password"` // Initial password for onboarded designers
}

// StorageConfig contains the BoltDB file for sessions and the snapshot
type StorageConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig contains the SQLite reconciliation journal
type JournalConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig contains the optional AMQP publisher settings
type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"` // Empty disables publishing
	Exchange string `yaml:"exchange"`
	Buffer   int    `yaml:"buffer"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
	TrustProxy    bool          `yaml:"trust_proxy"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DesignerConfig is a fallback designer entry
type DesignerConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// Load loads configuration from a YAML file. A .env file next to the config
// and one in the working directory are read first, and ${VAR} references
// in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := loadEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadEnv reads each existing file. Variables already set win.
func loadEnv(files ...string) error {
	seen := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 50 << 20 // 50 MB
	}

	if c.Gateway.UploadURL == "" {
		c.Gateway.UploadURL = c.Gateway.CommandURL
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.FetchTimeout == 0 {
		c.Gateway.FetchTimeout = 10 * time.Second
	}

	if c.Reconcile.PollInterval == 0 {
		c.Reconcile.PollInterval = 10 * time.Second
	}
	if c.Reconcile.PollAttempts == 0 {
		c.Reconcile.PollAttempts = 18
	}
	if c.Reconcile.ConflictPolicy == "" {
		c.Reconcile.ConflictPolicy = "reject"
	}
	if c.Reconcile.MaxUnmatchedRefreshes == 0 {
		c.Reconcile.MaxUnmatchedRefreshes = 3
	}
	if c.Reconcile.RefreshTimeout == 0 {
		c.Reconcile.RefreshTimeout = 30 * time.Second
	}

	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 24 * time.Hour
	}
	if c.Auth.DesignerPassword == "" {
		c.Auth.DesignerPassword = "123"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/reviewdesk/state.db"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "/var/lib/reviewdesk/journal.db"
	}

	if c.Events.Exchange == "" {
		c.Events.Exchange = "reviewdesk"
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.FetchURL == "" {
		return fmt.Errorf("gateway.fetch_url is required")
	}
	if c.Gateway.CommandURL == "" {
		return fmt.Errorf("gateway.command_url is required")
	}
	for name, raw := range map[string]string{
		"gateway.fetch_url":   c.Gateway.FetchURL,
		"gateway.command_url": c.Gateway.CommandURL,
		"gateway.upload_url":  c.Gateway.UploadURL,
	} {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Reconcile.PollAttempts < 1 {
		return fmt.Errorf("reconcile.poll_attempts must be at least 1")
	}
	if c.Reconcile.PollInterval < 0 || c.Reconcile.RefreshInterval < 0 {
		return fmt.Errorf("reconcile intervals must not be negative")
	}
	validPolicies := map[string]bool{"reject": true, "wait": true}
	if !validPolicies[c.Reconcile.ConflictPolicy] {
		return fmt.Errorf("invalid reconcile.conflict_policy: %s (must be reject or wait)", c.Reconcile.ConflictPolicy)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Events.AMQPURL != "" && !strings.HasPrefix(c.Events.AMQPURL, "amqp") {
		return fmt.Errorf("events.amqp_url must use the amqp or amqps scheme")
	}

	for i, d := range c.Designers {
		if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Email) == "" {
			return fmt.Errorf("designers[%d]: name and email are required", i)
		}
	}

	return nil
}

// EventsEnabled reports whether change events are published
func (c *Config) EventsEnabled() bool {
	return c.Events.AMQPURL != ""
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
