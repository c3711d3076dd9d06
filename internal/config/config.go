package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Development defaults. They are only accepted when ENV=development and are
// deliberately recognisable so they never pass for real secrets.
const (
	DevJWTSecret     = "DEV-ONLY-insecure-jwt-secret-change-me"
	DevSessionSecret = "DEV-ONLY-insecure-session-secret-change-me"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	AuthMode          string        `mapstructure:"AUTH_MODE"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	SessionSecret     string        `mapstructure:"SESSION_SECRET"`
	TokenTTL          time.Duration `mapstructure:"TOKEN_TTL"`
	SessionTTL        time.Duration `mapstructure:"SESSION_TTL"`
	StorageBackend    string        `mapstructure:"STORAGE_BACKEND"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant     string        `mapstructure:"DEFAULT_TENANT"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxUploadSize     string        `mapstructure:"MAX_UPLOAD_SIZE"`
	UploadDir         string        `mapstructure:"UPLOAD_DIR"`
	BlobBackend       string        `mapstructure:"BLOB_BACKEND"`
	MinioEndpoint     string        `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey    string        `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey    string        `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket       string        `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL       bool          `mapstructure:"MINIO_USE_SSL"`
	PredictionBackend string        `mapstructure:"PREDICTION_PROVIDER"`
	GeminiAPIKey      string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel       string        `mapstructure:"GEMINI_MODEL"`
	SimulatedDelayMax time.Duration `mapstructure:"SIMULATED_DELAY_MAX"`
	TrainingWorkers   int           `mapstructure:"TRAINING_WORKERS"`
	TrainingTimeout   time.Duration `mapstructure:"TRAINING_TIMEOUT"`
	WebhookWorkers    int           `mapstructure:"WEBHOOK_WORKERS"`
	WebhookTimeout    time.Duration `mapstructure:"WEBHOOK_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "JWT_SECRET", "SESSION_SECRET", "TOKEN_TTL", "SESSION_TTL",
	"STORAGE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"REDIS_URL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"MAX_UPLOAD_SIZE", "UPLOAD_DIR", "BLOB_BACKEND", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY",
	"MINIO_SECRET_KEY", "MINIO_BUCKET", "MINIO_USE_SSL", "PREDICTION_PROVIDER",
	"GEMINI_API_KEY", "GEMINI_MODEL", "SIMULATED_DELAY_MAX", "TRAINING_WORKERS",
	"TRAINING_TIMEOUT", "WEBHOOK_WORKERS", "WEBHOOK_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred from ENV when empty
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("STORAGE_BACKEND", "") // inferred from DATABASE_URL when empty
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MAX_UPLOAD_SIZE", "25M")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("BLOB_BACKEND", "local")
	v.SetDefault("MINIO_BUCKET", "quantnex-scans")
	v.SetDefault("PREDICTION_PROVIDER", "auto")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash")
	v.SetDefault("SIMULATED_DELAY_MAX", "3s")
	v.SetDefault("TRAINING_WORKERS", 2)
	v.SetDefault("TRAINING_TIMEOUT", "2m")
	v.SetDefault("WEBHOOK_WORKERS", 2)
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective principal resolution strategy:
// "development", "bearer" or "session". An empty AUTH_MODE means
// "development" when ENV=development and "bearer" otherwise.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "bearer"
}

// ResolvedStorageBackend returns "postgres" or "memory".
func (c *Config) ResolvedStorageBackend() string {
	if c.StorageBackend != "" {
		return c.StorageBackend
	}
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// ResolvedPredictionBackend returns "genai" or "simulated".
func (c *Config) ResolvedPredictionBackend() string {
	switch c.PredictionBackend {
	case "genai", "simulated":
		return c.PredictionBackend
	}
	if c.GeminiAPIKey != "" {
		return "genai"
	}
	return "simulated"
}

// EffectiveJWTSecret returns the configured JWT secret or, outside
// production, the development default. The boolean reports whether the
// development default is in use.
func (c *Config) EffectiveJWTSecret() (string, bool) {
	if c.JWTSecret != "" {
		return c.JWTSecret, false
	}
	return DevJWTSecret, true
}

// EffectiveSessionSecret mirrors EffectiveJWTSecret for session cookies.
func (c *Config) EffectiveSessionSecret() (string, bool) {
	if c.SessionSecret != "" {
		return c.SessionSecret, false
	}
	return DevSessionSecret, true
}

// Validate checks that the configuration is safe to run. Outside development
// real secrets are mandatory; the development defaults are never accepted.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development", "bearer", "session":
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"bearer\", or \"session\", got %q", mode)
	}
	if mode == "development" && c.IsProduction() {
		return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
	}

	if !c.IsDev() {
		if mode == "bearer" && (c.JWTSecret == "" || c.JWTSecret == DevJWTSecret) {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
		if mode == "session" && (c.SessionSecret == "" || c.SessionSecret == DevSessionSecret) {
			return fmt.Errorf("SESSION_SECRET is required when ENV=%q", c.Env)
		}
	}

	switch c.ResolvedStorageBackend() {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is \"postgres\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\" or \"postgres\", got %q", c.StorageBackend)
	}

	switch c.BlobBackend {
	case "local":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR is required when BLOB_BACKEND is \"local\"")
		}
	case "minio":
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when BLOB_BACKEND is \"minio\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"local\" or \"minio\", got %q", c.BlobBackend)
	}

	if c.PredictionBackend == "genai" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when PREDICTION_PROVIDER is \"genai\"")
	}

	if c.TokenTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL and SESSION_TTL must be positive")
	}

	return nil
}

// LogWarnings prints configuration warnings, most importantly the use of
// development secrets or the unauthenticated development principal.
func (c *Config) LogWarnings(logger zerolog.Logger) {
	if c.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("============================================================")
		logger.Warn().Msg("AUTH_MODE=development: requests without credentials run as dev-admin.")
		logger.Warn().Msg("Do NOT use this configuration outside local development.")
		logger.Warn().Msg("============================================================")
	}
	if _, dev := c.EffectiveJWTSecret(); dev && c.ResolvedAuthMode() != "session" {
		logger.Warn().Msg("JWT_SECRET not set: using the DEV-ONLY signing secret")
	}
	if _, dev := c.EffectiveSessionSecret(); dev && c.ResolvedAuthMode() == "session" {
		logger.Warn().Msg("SESSION_SECRET not set: using the DEV-ONLY session secret")
	}
	if c.ResolvedPredictionBackend() == "simulated" {
		logger.Warn().Msg("prediction provider is SIMULATED: generated clinical content is random and flagged simulated=true")
	}
}
