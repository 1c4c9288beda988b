package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/ehr/cohortbuilder/internal/config"
	"github.com/ehr/cohortbuilder/internal/domain/history"
	"github.com/ehr/cohortbuilder/internal/domain/search"
	"github.com/ehr/cohortbuilder/internal/platform/auth"
	"github.com/ehr/cohortbuilder/internal/platform/db"
	"github.com/ehr/cohortbuilder/internal/platform/export"
	"github.com/ehr/cohortbuilder/internal/platform/jobs"
	"github.com/ehr/cohortbuilder/internal/platform/logging"
	"github.com/ehr/cohortbuilder/internal/platform/metrics"
	"github.com/ehr/cohortbuilder/internal/platform/middleware"
	"github.com/ehr/cohortbuilder/internal/platform/notification"
	"github.com/ehr/cohortbuilder/internal/platform/openmrs"
	"github.com/ehr/cohortbuilder/internal/platform/session"
	"github.com/ehr/cohortbuilder/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cohort-server",
		Short: "Cohort builder query service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(composeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the cohort builder API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded migrations, or dir when given.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}
	if schema == "" {
		schema = cfg.DBSchema
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	migrator, err := db.NewMigrator(pool, migrationFiles(dir), schema)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return migrator, pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run history database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", migrator.Schema())
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, migrator.Schema(), statuses)
			return nil
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatus(cmd *cobra.Command, schema string, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func historyLimits(cfg *config.Config) history.Limits {
	return history.Limits{
		MaxItems:      cfg.HistoryMaxItems,
		MaxPatients:   cfg.HistoryMaxPatients,
		FallbackItems: cfg.HistoryFallbackItems,
	}
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger, closeLog, err := logging.New(logging.Config{
		Level:      cfg.LogLevel,
		Console:    cfg.IsDev(),
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompressFiles,
	})
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeLog()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	scheduler := jobs.NewScheduler(logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// History store
	var store history.Store
	switch cfg.HistoryBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		pgStore := history.NewPGStore(pool, cfg.HistoryQuotaBytes)
		if err := scheduler.AddPurge(cfg.PurgeSchedule, pgStore, cfg.SessionTTL); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule history purge")
		}
		store = pgStore
		e.GET("/health/db", db.HealthHandler(pool))
	default:
		store = history.NewMemoryStore(cfg.SessionMax, cfg.SessionTTL, cfg.HistoryQuotaBytes)
	}

	// Notifications
	feed := notification.NewFeed(cfg.NotificationFeedSize)
	notifier := notification.Multi{feed, notification.NewLogNotifier(logger)}

	historyLog := history.NewLog(store, notifier, logger, historyLimits(cfg))

	// OpenMRS collaborators
	client := openmrs.New(cfg.OpenMRSURL,
		openmrs.WithBasicAuth(cfg.OpenMRSUsername, cfg.OpenMRSPassword),
		openmrs.WithHTTPClient(&http.Client{Timeout: cfg.OpenMRSTimeout}),
		openmrs.WithLogger(logger),
	)
	reporting := search.NewOpenMRS(client)
	searchSvc := search.NewService(reporting, reporting, historyLog, notifier, logger)

	if cfg.ExportEnabled() {
		s3Client, err := export.NewS3Client(ctx, export.S3Config{
			Bucket:    cfg.ExportS3Bucket,
			Region:    cfg.ExportS3Region,
			Endpoint:  cfg.ExportS3Endpoint,
			AccessKey: cfg.ExportS3AccessKey,
			SecretKey: cfg.ExportS3SecretKey,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create S3 client")
		}
		searchSvc.SetExporter(export.NewS3Uploader(s3Client, cfg.ExportS3Bucket, logger))
		logger.Info().Str("bucket", cfg.ExportS3Bucket).Msg("CSV export to S3 enabled")
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, session.Header},
	}))

	// Auth middleware
	signingKey := []byte(cfg.AuthSigningKey)
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(signingKey))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: signingKey,
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// API group
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	apiV1 := e.Group("/api/v1",
		session.Middleware(),
		limiter.Middleware(),
		middleware.RequestTimeout(cfg.RequestTimeout),
	)
	if err := scheduler.Add("ratelimit-cleanup", "@every 10m", func(context.Context) error {
		limiter.Cleanup(30 * time.Minute)
		return nil
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule rate limiter cleanup")
	}
	if err := scheduler.Add("notification-expiry", "@every 10m", func(context.Context) error {
		feed.Expire(cfg.SessionTTL)
		return nil
	}); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule notification expiry")
	}

	search.NewHandler(searchSvc).RegisterRoutes(apiV1)
	history.NewHandler(historyLog).RegisterRoutes(apiV1)
	notification.NewHandler(feed).RegisterRoutes(apiV1)

	scheduler.Start()

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("history_backend", cfg.HistoryBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
