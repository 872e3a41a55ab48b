package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "sentinel",
				Password: "secret",
				Name:     "audit_sentinel",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=sentinel password=secret dbname=audit_sentinel sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "",
				Name:     "dbname",
				SSLMode:  "prefer",
			},
			want: "host=localhost port=5432 user=user password= dbname=dbname sslmode=prefer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
		{"port 443", ServerConfig{Host: "0.0.0.0", Port: 443}, "0.0.0.0:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// DetectionConfig.Window / WebhookChannelConfig.Timeout
// ---------------------------------------------------------------------------

func TestDetectionWindow(t *testing.T) {
	cfg := DetectionConfig{WindowMinutes: 45}
	if got := cfg.Window(); got != 45*time.Minute {
		t.Errorf("Window() = %v, want 45m", got)
	}
}

func TestWebhookTimeout(t *testing.T) {
	tests := []struct {
		name string
		secs int
		want time.Duration
	}{
		{"explicit", 30, 30 * time.Second},
		{"zero falls back to default", 0, 10 * time.Second},
		{"negative falls back to default", -5, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := WebhookChannelConfig{TimeoutSecs: tt.secs}
			if got := cfg.Timeout(); got != tt.want {
				t.Errorf("Timeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "audit_sentinel",
			User: "sentinel",
		},
		Detection: DetectionConfig{
			WindowMinutes: 60,
			Thresholds:    map[string]int{"failed_login": 5},
		},
		Alerting: AlertingConfig{
			Enabled:         true,
			DispatchTimeout: 10 * time.Second,
		},
		Retention: RetentionConfig{
			Days:          90,
			IntervalHours: 24,
		},
		Archive: ArchiveConfig{
			Backend: "local",
			Local:   LocalArchiveConfig{BasePath: "./archive"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("invalid server port 0", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 0, got nil")
		}
	})

	t.Run("invalid server port 70000", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 70000, got nil")
		}
	})

	t.Run("missing database host", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.Host = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing database host, got nil")
		}
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.Name = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing database name, got nil")
		}
	})

	t.Run("missing database user", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Database.User = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing database user, got nil")
		}
	})

	t.Run("redis enabled without addr", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for redis without addr, got nil")
		}
	})

	t.Run("detection window below one minute", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Detection.WindowMinutes = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero detection window, got nil")
		}
	})

	t.Run("zero threshold rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Detection.Thresholds = map[string]int{"failed_login": 0}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero threshold, got nil")
		}
	})

	t.Run("non-positive dispatch timeout rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Alerting.DispatchTimeout = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero dispatch timeout, got nil")
		}
	})

	t.Run("global rate limit requires redis", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Alerting.GlobalRatePerMinute = 60
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for rate limit without redis, got nil")
		}
	})

	t.Run("global rate limit with redis passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Alerting.GlobalRatePerMinute = 60
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = "localhost:6379"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("error rate threshold above one rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Alerting.ErrorRateThreshold = 1.5
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for error rate > 1, got nil")
		}
	})

	t.Run("notifications enabled without smtp host", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Notifications.Enabled = true
		cfg.Notifications.SMTP.From = "alerts@example.com"
		cfg.Notifications.AdminEmails = []string{"ops@example.com"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing smtp host, got nil")
		}
	})

	t.Run("notifications enabled without admin emails", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Notifications.Enabled = true
		cfg.Notifications.SMTP.Host = "smtp.example.com"
		cfg.Notifications.SMTP.From = "alerts@example.com"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing admin emails, got nil")
		}
	})

	t.Run("notifications fully configured passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Notifications.Enabled = true
		cfg.Notifications.SMTP.Host = "smtp.example.com"
		cfg.Notifications.SMTP.From = "alerts@example.com"
		cfg.Notifications.AdminEmails = []string{"ops@example.com"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("retention days below one rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Retention.Days = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero retention days, got nil")
		}
	})

	t.Run("retention interval below one hour rejected", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Retention.IntervalHours = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero retention interval, got nil")
		}
	})

	t.Run("invalid archive backend", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Archive.Backend = "ftp"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for unknown archive backend, got nil")
		}
	})

	t.Run("archive enabled local backend requires base path", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Retention.ArchiveEnabled = true
		cfg.Archive.Local.BasePath = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing archive base path, got nil")
		}
	})

	t.Run("archive enabled s3 backend requires bucket", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Retention.ArchiveEnabled = true
		cfg.Archive.Backend = "s3"
		cfg.Archive.S3.Region = "us-east-1"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing s3 bucket, got nil")
		}
	})

	t.Run("archive enabled s3 backend requires region", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Retention.ArchiveEnabled = true
		cfg.Archive.Backend = "s3"
		cfg.Archive.S3.Bucket = "audit-archive"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing s3 region, got nil")
		}
	})

	t.Run("s3 backend without archive enabled passes without sub-fields", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Archive.Backend = "s3"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("tls enabled requires cert file", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.TLS.Enabled = true
		cfg.Security.TLS.KeyFile = "/etc/certs/key.pem"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing cert file, got nil")
		}
	})

	t.Run("tls enabled requires key file", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.TLS.Enabled = true
		cfg.Security.TLS.CertFile = "/etc/certs/cert.pem"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing key file, got nil")
		}
	})

	t.Run("tls fully configured passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Security.TLS.Enabled = true
		cfg.Security.TLS.CertFile = "/etc/certs/cert.pem"
		cfg.Security.TLS.KeyFile = "/etc/certs/key.pem"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("invalid logging level", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Logging.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid log level, got nil")
		}
	})

	t.Run("all valid logging levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			cfg := minimalValidConfig()
			cfg.Logging.Level = level
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error for level %q: %v", level, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// Load – defaults and env var expansion
// ---------------------------------------------------------------------------

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	// Load with a nonexistent config path falls back to defaults + env vars
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		// Validation may fail due to missing required fields in default config;
		// that is acceptable – we just check that a file-not-found doesn't crash.
		if !strings.Contains(err.Error(), "invalid configuration") &&
			!strings.Contains(err.Error(), "error reading config file") {
			t.Fatalf("Load() unexpected error kind: %v", err)
		}
	} else {
		// If it did succeed, the defaults should be sensible.
		if cfg.Server.Port != 8080 {
			t.Errorf("default server port = %d, want 8080", cfg.Server.Port)
		}
		if cfg.Database.Host != "localhost" {
			t.Errorf("default database host = %q, want %q", cfg.Database.Host, "localhost")
		}
	}
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		got := expandEnv("${CONFIG_TEST_SECRET}")
		if got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("expands $VAR syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_VAL", "hello")
		got := expandEnv("$CONFIG_TEST_VAL")
		if got != "hello" {
			t.Errorf("expandEnv() = %q, want %q", got, "hello")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		got := expandEnv("no-vars-here")
		if got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}")
		if got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})

	t.Run("empty string passthrough", func(t *testing.T) {
		got := expandEnv("")
		if got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load – with config file
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  base_url: "http://testhost:9999"
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
detection:
  window_minutes: 30
  thresholds:
    failed_login: 3
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Database.Host != "dbhost" {
		t.Errorf("Database.Host = %q, want dbhost", cfg.Database.Host)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("Database.Name = %q, want testdb", cfg.Database.Name)
	}
	if cfg.Detection.WindowMinutes != 30 {
		t.Errorf("Detection.WindowMinutes = %d, want 30", cfg.Detection.WindowMinutes)
	}
	if cfg.Detection.Thresholds["failed_login"] != 3 {
		t.Errorf("Detection.Thresholds[failed_login] = %d, want 3", cfg.Detection.Thresholds["failed_login"])
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	// Config without server.host or server.port — setDefaults() should fill them in.
	const content = `
server:
  base_url: "http://localhost:8080"
database:
  host: "localhost"
  name: "audit_sentinel"
  user: "sentinel"
logging:
  level: "info"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("default Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default Database.SSLMode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Detection.WindowMinutes != 60 {
		t.Errorf("default Detection.WindowMinutes = %d, want 60", cfg.Detection.WindowMinutes)
	}
	if cfg.Detection.Thresholds["failed_login"] != 5 {
		t.Errorf("default Detection.Thresholds[failed_login] = %d, want 5", cfg.Detection.Thresholds["failed_login"])
	}
	if cfg.Detection.Thresholds["role_changed"] != 1 {
		t.Errorf("default Detection.Thresholds[role_changed] = %d, want 1", cfg.Detection.Thresholds["role_changed"])
	}
	if !cfg.Alerting.Enabled {
		t.Error("default Alerting.Enabled = false, want true")
	}
	if cfg.Alerting.DispatchTimeout != 10*time.Second {
		t.Errorf("default Alerting.DispatchTimeout = %v, want 10s", cfg.Alerting.DispatchTimeout)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("default Retention.Days = %d, want 90", cfg.Retention.Days)
	}
	if cfg.Retention.IntervalHours != 24 {
		t.Errorf("default Retention.IntervalHours = %d, want 24", cfg.Retention.IntervalHours)
	}
	if cfg.Archive.Backend != "local" {
		t.Errorf("default Archive.Backend = %q, want local", cfg.Archive.Backend)
	}
	if cfg.Archive.Local.BasePath != "./archive" {
		t.Errorf("default Archive.Local.BasePath = %q, want ./archive", cfg.Archive.Local.BasePath)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	t.Setenv("TEST_S3_KEY", "AKIAEXAMPLE")
	const content = `
server:
  port: 8080
  base_url: "http://localhost:8080"
database:
  host: "localhost"
  name: "audit_sentinel"
  user: "sentinel"
  password: "${TEST_DB_PASS}"
archive:
  backend: "local"
  s3:
    access_key_id: "${TEST_S3_KEY}"
logging:
  level: "info"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
	if cfg.Archive.S3.AccessKeyID != "AKIAEXAMPLE" {
		t.Errorf("Archive.S3.AccessKeyID = %q, want AKIAEXAMPLE", cfg.Archive.S3.AccessKeyID)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
