// Package main is the entry point for the audit sentinel server binary.
// It dispatches three subcommands — serve, migrate, and version — via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place
// without requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is NOT served on the main API listener (Gin router).

	// It only serves on a dedicated internal port when cfg.Telemetry.Profiling.Enabled=true.
	// DefaultServeMux is never passed to the Gin HTTP server.
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/api"
	"github.com/audit-sentinel/audit-sentinel/internal/audit"
	"github.com/audit-sentinel/audit-sentinel/internal/auth"
	"github.com/audit-sentinel/audit-sentinel/internal/config"
	"github.com/audit-sentinel/audit-sentinel/internal/db"
	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
	"github.com/audit-sentinel/audit-sentinel/internal/db/repositories"
	"github.com/audit-sentinel/audit-sentinel/internal/detect"
	"github.com/audit-sentinel/audit-sentinel/internal/jobs"
	"github.com/audit-sentinel/audit-sentinel/internal/notify"
	"github.com/audit-sentinel/audit-sentinel/internal/safego"
	"github.com/audit-sentinel/audit-sentinel/internal/storage"
	"github.com/audit-sentinel/audit-sentinel/internal/telemetry"

	// Import archive backends to register them
	_ "github.com/audit-sentinel/audit-sentinel/internal/storage/local"
	_ "github.com/audit-sentinel/audit-sentinel/internal/storage/s3"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Audit Sentinel v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config, configPath string) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate JWT secret configuration (fails in production if not set)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name)

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	auditRepo := repositories.NewAuditRepository(sqlxDB)

	// Optional Redis connection for fleet-shared detection and cooldown state.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Detector: process-local counters by default, Redis-backed when configured.
	var windowStore detect.Store
	if redisClient != nil {
		windowStore = detect.NewRedisStore(redisClient)
	} else {
		windowStore = detect.NewMemoryStore()
	}
	detector := detect.New(detectorConfig(&cfg.Detection), windowStore)
	defer detector.Stop()

	// Alert rule engine with cooldown state matching the detector's locality.
	rules, err := alert.BuildRules(&cfg.Alerting)
	if err != nil {
		return fmt.Errorf("invalid alerting configuration: %w", err)
	}
	var cooldowns alert.CooldownStore
	if redisClient != nil {
		cooldowns = alert.NewRedisCooldowns(redisClient)
	} else {
		cooldowns = alert.NewMemoryCooldowns()
	}

	// Notification channels. Monitoring is always on; webhook and email join
	// when configured.
	channels := []notify.Channel{notify.NewMonitoringChannel(slog.Default())}
	if cfg.Alerting.Webhook.URL != "" {
		channels = append(channels, notify.NewWebhookChannel(
			&cfg.Alerting.Webhook, cfg.Alerting.Environment, cfg.Alerting.Release,
			cfg.Telemetry.ServiceName, version))
	}
	if cfg.Notifications.Enabled && cfg.Notifications.SMTP.Host != "" {
		channels = append(channels, notify.NewEmailChannel(
			&cfg.Notifications.SMTP, cfg.Notifications.AdminEmails))
	}

	var dispatchOpts []notify.Option
	if redisClient != nil && cfg.Alerting.GlobalRatePerMinute > 0 {
		dispatchOpts = append(dispatchOpts, notify.WithGlobalRateLimit(
			redis_rate.NewLimiter(redisClient), cfg.Alerting.GlobalRatePerMinute))
	}
	dispatcher := notify.NewDispatcher(channels, cfg.Alerting.DispatchTimeout, dispatchOpts...)

	engine := alert.NewEngine(rules, cooldowns, dispatcher, cfg.Alerting.Enabled)

	// The recorder is the single write path: persistence, detection, alerting.
	// Alert checks run on supervised background goroutines so channel fan-out
	// never blocks the action being recorded.
	recorder := audit.NewRecorder(auditRepo, detector, audit.AsyncAlertSink(engine), slog.Default())

	// Archive backend for retention cleanup (only needed when archiving).
	var archiveBackend storage.Backend
	if cfg.Retention.ArchiveEnabled {
		archiveBackend, err = storage.NewBackend(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize archive backend: %w", err)
		}
		slog.Info("initialized archive backend", "backend", cfg.Archive.Backend)
	}

	// Retention cleanup job.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	cleaner := jobs.NewRetentionCleaner(auditRepo, recorder, archiveBackend, &cfg.Retention)
	safego.Go(func() { cleaner.Start(jobCtx) })

	// Hot-reload detection thresholds and rule overrides when the config file
	// changes on disk.
	err = config.Watch(configPath, func(newCfg *config.Config) {
		detector.SetConfig(detectorConfig(&newCfg.Detection))
		newRules, err := alert.BuildRules(&newCfg.Alerting)
		if err != nil {
			slog.Error("reloaded alerting config rejected, keeping previous rules", "error", err)
			return
		}
		engine.SetRules(newRules)
		engine.SetEnabled(newCfg.Alerting.Enabled)
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not reachable
	// through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			// Use http.Server with timeouts (G114: bare http.ListenAndServe has no timeout support).
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start pprof endpoint on its own port (disabled in production by default).
	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
			srv := &http.Server{
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux, // #nosec G108 -- not the main listener; pprof-only internal port
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	// Create router
	router := api.NewRouter(cfg, api.Deps{
		Repo:     auditRepo,
		Recorder: recorder,
		Cleaner:  cleaner,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"alerting", cfg.Alerting.Enabled,
			"redis", cfg.Redis.Enabled,
			"channels", len(channels))

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile, "key", cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background goroutines after in-flight requests drain.
	cleaner.Stop()
	cancelJobs()

	slog.Info("server stopped gracefully")
	return nil
}

// detectorConfig translates the validated application config into the
// detector's typed form. Unknown action names are skipped with a warning so a
// typo in one threshold does not disable the rest.
func detectorConfig(cfg *config.DetectionConfig) detect.Config {
	thresholds := make(map[models.Action]int, len(cfg.Thresholds))
	for name, limit := range cfg.Thresholds {
		action := models.Action(name)
		if !action.Valid() {
			slog.Warn("ignoring threshold for unknown action", "action", name)
			continue
		}
		if limit < 1 {
			slog.Warn("ignoring non-positive threshold", "action", name, "threshold", limit)
			continue
		}
		thresholds[action] = limit
	}
	return detect.Config{
		Window:     cfg.Window(),
		Thresholds: thresholds,
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	// Run migrations
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Get current version
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
