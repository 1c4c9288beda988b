package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	OpenMRSURL      string        `mapstructure:"OPENMRS_URL"`
	OpenMRSUsername string        `mapstructure:"OPENMRS_USERNAME"`
	OpenMRSPassword string        `mapstructure:"OPENMRS_PASSWORD"`
	OpenMRSTimeout  time.Duration `mapstructure:"OPENMRS_TIMEOUT"`

	HistoryBackend string `mapstructure:"HISTORY_BACKEND"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string `mapstructure:"DB_SCHEMA"`

	HistoryMaxItems      int           `mapstructure:"HISTORY_MAX_ITEMS"`
	HistoryMaxPatients   int           `mapstructure:"HISTORY_MAX_PATIENTS"`
	HistoryFallbackItems int           `mapstructure:"HISTORY_FALLBACK_ITEMS"`
	HistoryQuotaBytes    int           `mapstructure:"HISTORY_QUOTA_BYTES"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	SessionMax           int           `mapstructure:"SESSION_MAX"`
	PurgeSchedule        string        `mapstructure:"PURGE_SCHEDULE"`
	NotificationFeedSize int           `mapstructure:"NOTIFICATION_FEED_SIZE"`

	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	ExportS3Bucket    string `mapstructure:"EXPORT_S3_BUCKET"`
	ExportS3Region    string `mapstructure:"EXPORT_S3_REGION"`
	ExportS3Endpoint  string `mapstructure:"EXPORT_S3_ENDPOINT"`
	ExportS3AccessKey string `mapstructure:"EXPORT_S3_ACCESS_KEY"`
	ExportS3SecretKey string `mapstructure:"EXPORT_S3_SECRET_KEY"`

	LogLevel         string `mapstructure:"LOG_LEVEL"`
	LogFile          string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB     int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups    int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays    int    `mapstructure:"LOG_MAX_AGE_DAYS"`
	LogCompressFiles bool   `mapstructure:"LOG_COMPRESS"`
}

var keys = []string{
	"PORT", "ENV",
	"OPENMRS_URL", "OPENMRS_USERNAME", "OPENMRS_PASSWORD", "OPENMRS_TIMEOUT",
	"HISTORY_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"HISTORY_MAX_ITEMS", "HISTORY_MAX_PATIENTS", "HISTORY_FALLBACK_ITEMS", "HISTORY_QUOTA_BYTES",
	"SESSION_TTL", "SESSION_MAX", "PURGE_SCHEDULE", "NOTIFICATION_FEED_SIZE",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"EXPORT_S3_BUCKET", "EXPORT_S3_REGION", "EXPORT_S3_ENDPOINT", "EXPORT_S3_ACCESS_KEY", "EXPORT_S3_SECRET_KEY",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS", "LOG_COMPRESS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("OPENMRS_URL", "http://localhost:8080/openmrs/ws/rest/v1")
	v.SetDefault("OPENMRS_TIMEOUT", "30s")
	v.SetDefault("HISTORY_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("HISTORY_MAX_ITEMS", 50)
	v.SetDefault("HISTORY_MAX_PATIENTS", 100)
	v.SetDefault("HISTORY_FALLBACK_ITEMS", 10)
	v.SetDefault("HISTORY_QUOTA_BYTES", 5<<20)
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_MAX", 10000)
	v.SetDefault("PURGE_SCHEDULE", "@every 1h")
	v.SetDefault("NOTIFICATION_FEED_SIZE", 50)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("EXPORT_S3_REGION", "us-east-1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range keys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(cfg.HistoryBackend))

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token run as an admin dev-user.")
		log.Println("WARNING: Set ENV=production and AUTH_SIGNING_KEY for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ExportEnabled reports whether CSV exports are uploaded to S3.
func (c *Config) ExportEnabled() bool {
	return c.ExportS3Bucket != ""
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.HistoryBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when HISTORY_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("HISTORY_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.HistoryBackend)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}
	if c.OpenMRSURL == "" {
		return fmt.Errorf("OPENMRS_URL is required")
	}

	if c.HistoryMaxItems <= 0 {
		return fmt.Errorf("HISTORY_MAX_ITEMS must be positive, got %d", c.HistoryMaxItems)
	}
	if c.HistoryMaxPatients <= 0 {
		return fmt.Errorf("HISTORY_MAX_PATIENTS must be positive, got %d", c.HistoryMaxPatients)
	}
	if c.HistoryFallbackItems <= 0 || c.HistoryFallbackItems > c.HistoryMaxItems {
		return fmt.Errorf("HISTORY_FALLBACK_ITEMS must be between 1 and HISTORY_MAX_ITEMS (%d), got %d",
			c.HistoryMaxItems, c.HistoryFallbackItems)
	}
	if c.HistoryQuotaBytes < 0 {
		return fmt.Errorf("HISTORY_QUOTA_BYTES must not be negative, got %d", c.HistoryQuotaBytes)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.SessionMax <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive, got %d", c.SessionMax)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}

	if c.ExportEnabled() && (c.ExportS3AccessKey == "") != (c.ExportS3SecretKey == "") {
		return fmt.Errorf("EXPORT_S3_ACCESS_KEY and EXPORT_S3_SECRET_KEY must be set together")
	}

	return nil
}
