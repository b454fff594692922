package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Drafts   DraftsConfig   `mapstructure:"drafts"`
	Billing  BillingConfig  `mapstructure:"billing"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	InternalSecret string   `mapstructure:"internal_secret"`
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
	LogSQL   bool   `mapstructure:"log_sql"`
}

// RedisConfig contains Redis connection options shared by the cache, pub/sub and asynq.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig holds the RSA key material and token lifetimes.
type AuthConfig struct {
	PrivateKeyPath  string        `mapstructure:"private_key_path"`
	PublicKeyPath   string        `mapstructure:"public_key_path"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// DraftsConfig controls the anonymous draft handoff.
type DraftsConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	CookieName       string        `mapstructure:"cookie_name"`
	CookieTTL        time.Duration `mapstructure:"cookie_ttl"`
	CookieDomain     string        `mapstructure:"cookie_domain"`
	CookieSecure     bool          `mapstructure:"cookie_secure"`
	PermissiveClaim  bool          `mapstructure:"permissive_claim"`
	WritesPerHour    int           `mapstructure:"writes_per_hour"`
	PurgeRetention   time.Duration `mapstructure:"purge_retention"`
	PurgeCronSpec    string        `mapstructure:"purge_cron_spec"`
	ConvertMaxRetry  int           `mapstructure:"convert_max_retry"`
	EntitlementCache time.Duration `mapstructure:"entitlement_cache_ttl"`
}

// BillingConfig contains Stripe credentials.
type BillingConfig struct {
	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Addr returns host:port for go-redis and asynq.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.API.AllowedOrigins = splitList(cfg.API.AllowedOrigins)

	if cfg.Drafts.CookieTTL <= 0 {
		cfg.Drafts.CookieTTL = cfg.Drafts.TTL
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "cvforge")
	v.SetDefault("database.user", "cvforge")
	v.SetDefault("database.password", "cvforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_sql", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "cv-assets")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.private_key_path", "keys/jwt_private.pem")
	v.SetDefault("auth.public_key_path", "keys/jwt_public.pem")
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("drafts.ttl", 30*time.Minute)
	v.SetDefault("drafts.cookie_name", "cvforge_anon")
	v.SetDefault("drafts.cookie_ttl", 0)
	v.SetDefault("drafts.cookie_domain", "")
	v.SetDefault("drafts.cookie_secure", true)
	v.SetDefault("drafts.permissive_claim", true)
	v.SetDefault("drafts.writes_per_hour", 120)
	v.SetDefault("drafts.purge_retention", 24*time.Hour)
	v.SetDefault("drafts.purge_cron_spec", "@every 1h")
	v.SetDefault("drafts.convert_max_retry", 8)
	v.SetDefault("drafts.entitlement_cache_ttl", 5*time.Minute)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                      "API_PORT",
		"api.allowed_origins":           "API_ALLOWED_ORIGINS",
		"api.internal_secret":           "INTERNAL_API_SECRET",
		"log.level":                     "LOG_LEVEL",
		"log.format":                    "LOG_FORMAT",
		"database.host":                 "DATABASE_HOST",
		"database.port":                 "DATABASE_PORT",
		"database.name":                 "POSTGRES_DB",
		"database.user":                 "POSTGRES_USER",
		"database.password":             "POSTGRES_PASSWORD",
		"database.sslmode":              "DATABASE_SSLMODE",
		"database.log_sql":              "DATABASE_LOG_SQL",
		"redis.host":                    "REDIS_HOST",
		"redis.port":                    "REDIS_PORT",
		"minio.endpoint":                "MINIO_ENDPOINT",
		"minio.public_endpoint":         "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":           "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":       "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                 "MINIO_USE_SSL",
		"minio.bucket":                  "MINIO_BUCKET",
		"minio.region":                  "MINIO_REGION",
		"minio.auto_create_bucket":      "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":         "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":          "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":         "JWT_ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":        "JWT_REFRESH_TOKEN_TTL",
		"drafts.ttl":                    "DRAFT_TTL",
		"drafts.cookie_name":            "DRAFT_COOKIE_NAME",
		"drafts.cookie_ttl":             "DRAFT_COOKIE_TTL",
		"drafts.cookie_domain":          "DRAFT_COOKIE_DOMAIN",
		"drafts.cookie_secure":          "DRAFT_COOKIE_SECURE",
		"drafts.permissive_claim":       "DRAFT_PERMISSIVE_CLAIM",
		"drafts.writes_per_hour":        "DRAFT_WRITES_PER_HOUR",
		"drafts.purge_retention":        "DRAFT_PURGE_RETENTION",
		"drafts.purge_cron_spec":        "DRAFT_PURGE_CRON_SPEC",
		"drafts.convert_max_retry":      "DRAFT_CONVERT_MAX_RETRY",
		"drafts.entitlement_cache_ttl":  "ENTITLEMENT_CACHE_TTL",
		"billing.stripe_secret_key":     "STRIPE_SECRET_KEY",
		"billing.stripe_webhook_secret": "STRIPE_WEBHOOK_SECRET",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

// splitList accepts both a proper list and a single comma separated env value.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Log.Format)
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if cfg.Drafts.TTL <= 0 {
		return errors.New("draft ttl must be positive")
	}
	if cfg.Drafts.TTL > 24*time.Hour {
		return errors.New("draft ttl must not exceed 24h")
	}
	if cfg.Drafts.CookieName == "" {
		return errors.New("draft cookie name is required")
	}
	if cfg.Drafts.CookieTTL < cfg.Drafts.TTL {
		return errors.New("draft cookie ttl must cover the draft ttl")
	}
	if cfg.Drafts.WritesPerHour < 0 {
		return errors.New("draft writes per hour must not be negative")
	}
	if cfg.Drafts.PurgeRetention <= 0 {
		return errors.New("draft purge retention must be positive")
	}
	if cfg.Drafts.ConvertMaxRetry < 0 {
		return errors.New("draft convert max retry must not be negative")
	}
	return nil
}
