// Package config loads and validates the audit engine configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUD_ prefix (e.g., AUD_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// Detection thresholds and rule cooldowns are hot-reloadable: Watch re-reads the
// config file when it changes on disk so threshold tuning does not require a
// restart (and therefore does not reset in-memory window counters).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Detection     DetectionConfig     `mapstructure:"detection"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Security      SecurityConfig      `mapstructure:"security"`
}

// ServerConfig holds HTTP server configuration for the operator API
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the optional Redis connection used for fleet-shared
// detection/cooldown state and the global dispatch throttle. When Enabled is
// false the engine keeps all of that state in process memory, which is the
// default single-instance deployment mode.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DetectionConfig holds the suspicious-activity detector settings.
type DetectionConfig struct {
	// WindowMinutes is the trailing window over which per-(actor, action)
	// occurrences are counted. Default 60.
	WindowMinutes int `mapstructure:"window_minutes"`
	// Thresholds maps an action name to the in-window occurrence count at
	// which the action becomes suspicious. Actions absent from the map are
	// not monitored at all (their entries never touch a counter). A
	// threshold of 1 makes every occurrence suspicious.
	Thresholds map[string]int `mapstructure:"thresholds"`
}

// AlertingConfig holds the alert rule engine and dispatcher settings.
type AlertingConfig struct {
	// Enabled globally toggles rule evaluation and notification dispatch.
	// Recording and detection still run when false; only alerting stops.
	Enabled bool `mapstructure:"enabled"`
	// Environment tags outbound webhook payloads (e.g. "production").
	Environment string `mapstructure:"environment"`
	// Release tags outbound webhook payloads with a deploy identifier.
	Release string `mapstructure:"release"`
	// DispatchTimeout bounds each individual channel delivery attempt.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// GlobalRatePerMinute caps total notifications per minute across the
	// fleet. Enforced via redis_rate when Redis is enabled; 0 disables the cap.
	GlobalRatePerMinute int `mapstructure:"global_rate_per_minute"`
	// Rules overrides the built-in rule set per rule name. Unknown names are
	// rejected at startup.
	Rules []RuleOverride `mapstructure:"rules"`
	// Webhook configures the webhook notification channel.
	Webhook WebhookChannelConfig `mapstructure:"webhook"`
	// ErrorRateThreshold is the error-rate fraction above which the
	// high_error_rate rule fires (default 0.05).
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold"`
	// ErrorCountThreshold is the absolute in-window error count above which
	// the error_count_spike rule fires (default 50).
	ErrorCountThreshold int `mapstructure:"error_count_threshold"`
	// SlowResponseThreshold is the average response time above which the
	// slow_responses rule fires (default 2s).
	SlowResponseThreshold time.Duration `mapstructure:"slow_response_threshold"`
}

// RuleOverride adjusts a single built-in alert rule from configuration.
type RuleOverride struct {
	Name            string   `mapstructure:"name"`
	CooldownMinutes int      `mapstructure:"cooldown_minutes"`
	Channels        []string `mapstructure:"channels"`
	Disabled        bool     `mapstructure:"disabled"`
}

// WebhookChannelConfig holds the webhook notification channel settings.
type WebhookChannelConfig struct {
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// NotificationsConfig holds settings for outbound notification emails
type NotificationsConfig struct {
	// Enabled globally toggles the email channel. Requires SMTP to be configured.
	Enabled bool `mapstructure:"enabled"`
	// SMTP holds the outbound mail server settings
	SMTP SMTPConfig `mapstructure:"smtp"`
	// AdminEmails are the recipients of alert emails.
	AdminEmails []string `mapstructure:"admin_emails"`
}

// SMTPConfig holds outbound mail server configuration for notification emails
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g. smtp.sendgrid.net)
	Host string `mapstructure:"host"`
	// Port is the SMTP server port (587 for STARTTLS, 465 for SMTPS, 25 for plain)
	Port int `mapstructure:"port"`
	// Username for SMTP authentication
	Username string `mapstructure:"username"`
	// Password for SMTP authentication
	Password string `mapstructure:"password"`
	// From is the sender address shown in notification emails
	From string `mapstructure:"from"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// RetentionConfig holds the audit trail retention settings.
type RetentionConfig struct {
	// Days is the retention window; entries older than now - Days are
	// eligible for cleanup. Default 90.
	Days int `mapstructure:"days"`
	// IntervalHours determines how often the cleanup job runs (default 24).
	IntervalHours int `mapstructure:"interval_hours"`
	// ArchiveEnabled exports eligible entries to the archive backend before
	// deletion. When true, an archive failure aborts the deletion.
	ArchiveEnabled bool `mapstructure:"archive_enabled"`
}

// ArchiveConfig holds archive storage backend configuration
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	S3      S3ArchiveConfig    `mapstructure:"s3"`
}

// LocalArchiveConfig holds local filesystem archive configuration
type LocalArchiveConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// S3ArchiveConfig holds S3-compatible archive storage configuration
type S3ArchiveConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	// Region is the AWS region
	Region string `mapstructure:"region"`
	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket"`

	// Authentication method: "default" (AWS credential chain) or "static"
	AuthMethod string `mapstructure:"auth_method"`

	// Static credentials (when auth_method is "static")
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	TLS TLSConfig `mapstructure:"tls"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.enabled",
		"redis.addr",
		"redis.password",
		"redis.db",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Detection
		"detection.window_minutes",

		// Alerting
		"alerting.enabled",
		"alerting.environment",
		"alerting.release",
		"alerting.dispatch_timeout",
		"alerting.global_rate_per_minute",
		"alerting.error_rate_threshold",
		"alerting.error_count_threshold",
		"alerting.slow_response_threshold",
		"alerting.webhook.url",
		"alerting.webhook.timeout_secs",

		// Notifications / SMTP
		"notifications.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.use_tls",
		"notifications.admin_emails",

		// Retention
		"retention.days",
		"retention.interval_hours",
		"retention.archive_enabled",

		// Archive
		"archive.backend",
		"archive.local.base_path",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.auth_method",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",

		// Security
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, file lookup, and env binding
// applied, but does not read or unmarshal anything yet.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-sentinel")
	}

	v.SetEnvPrefix("AUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	return v, nil
}

// unmarshal reads the current viper state into a validated Config.
func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	return unmarshal(v)
}

// Watch re-reads the configuration file whenever it changes on disk and invokes
// onReload with the freshly parsed Config. A file that fails to parse or
// validate is logged and skipped; the previous configuration stays in effect.
// Watch returns immediately; reloads happen on viper's watcher goroutine.
//
// Only the detection thresholds and alerting rule overrides are meant to be
// tuned this way — consumers receiving the new Config decide which sections
// they apply at runtime.
func Watch(configPath string, onReload func(*Config)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Nothing to watch without a file; env-only deployments reload by restart.
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("config reload failed, keeping previous configuration",
				"file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onReload(cfg)
	})
	v.WatchConfig()
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit_sentinel")
	v.SetDefault("database.user", "sentinel")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "audit-sentinel")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Detection defaults: window and per-action thresholds. Actions not
	// listed here are not monitored. role_changed and user_deleted are
	// always suspicious (threshold 1).
	v.SetDefault("detection.window_minutes", 60)
	v.SetDefault("detection.thresholds", map[string]int{
		"failed_login":         5,
		"system_access":        20,
		"data_exported":        3,
		"invitation_cancelled": 5,
		"role_changed":         1,
		"user_deleted":         1,
	})

	// Alerting defaults
	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.environment", "development")
	v.SetDefault("alerting.release", "")
	v.SetDefault("alerting.dispatch_timeout", "10s")
	v.SetDefault("alerting.global_rate_per_minute", 0)
	v.SetDefault("alerting.error_rate_threshold", 0.05)
	v.SetDefault("alerting.error_count_threshold", 50)
	v.SetDefault("alerting.slow_response_threshold", "2s")
	v.SetDefault("alerting.webhook.timeout_secs", 10)

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)

	// Retention defaults
	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.interval_hours", 24)
	v.SetDefault("retention.archive_enabled", false)

	// Archive defaults
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.tls.enabled", false)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	// Validate Redis if enabled
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	// Validate detection
	if c.Detection.WindowMinutes < 1 {
		return fmt.Errorf("detection.window_minutes must be at least 1, got %d", c.Detection.WindowMinutes)
	}
	for action, threshold := range c.Detection.Thresholds {
		if threshold < 1 {
			return fmt.Errorf("detection.thresholds.%s must be at least 1, got %d", action, threshold)
		}
	}

	// Validate alerting
	if c.Alerting.DispatchTimeout <= 0 {
		return fmt.Errorf("alerting.dispatch_timeout must be positive")
	}
	if c.Alerting.GlobalRatePerMinute > 0 && !c.Redis.Enabled {
		return fmt.Errorf("alerting.global_rate_per_minute requires redis to be enabled")
	}
	if c.Alerting.ErrorRateThreshold < 0 || c.Alerting.ErrorRateThreshold > 1 {
		return fmt.Errorf("alerting.error_rate_threshold must be in [0, 1], got %g", c.Alerting.ErrorRateThreshold)
	}

	// Validate SMTP when the email channel is enabled
	if c.Notifications.Enabled {
		if c.Notifications.SMTP.Host == "" {
			return fmt.Errorf("notifications.smtp.host is required when notifications are enabled")
		}
		if c.Notifications.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.from is required when notifications are enabled")
		}
		if len(c.Notifications.AdminEmails) == 0 {
			return fmt.Errorf("notifications.admin_emails is required when notifications are enabled")
		}
	}

	// Validate retention
	if c.Retention.Days < 1 {
		return fmt.Errorf("retention.days must be at least 1, got %d", c.Retention.Days)
	}
	if c.Retention.IntervalHours < 1 {
		return fmt.Errorf("retention.interval_hours must be at least 1, got %d", c.Retention.IntervalHours)
	}

	// Validate archive backend
	validBackends := map[string]bool{"local": true, "s3": true}
	if !validBackends[c.Archive.Backend] {
		return fmt.Errorf("invalid archive backend: %s (must be 'local' or 's3')", c.Archive.Backend)
	}
	if c.Retention.ArchiveEnabled {
		if c.Archive.Backend == "local" && c.Archive.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local archive backend")
		}
		if c.Archive.Backend == "s3" {
			if c.Archive.S3.Bucket == "" {
				return fmt.Errorf("archive.s3.bucket is required when using S3 archive backend")
			}
			if c.Archive.S3.Region == "" {
				return fmt.Errorf("archive.s3.region is required when using S3 archive backend")
			}
		}
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Window returns the detection window as a duration.
func (c *DetectionConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// Timeout returns the webhook channel timeout, defaulting to 10s.
func (c *WebhookChannelConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}
