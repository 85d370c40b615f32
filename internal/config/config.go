package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	CurrentDomain string   `mapstructure:"CURRENT_DOMAIN"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// JWKSBase64 holds the base64-encoded private JWKS used to sign requests
	// to middleware hosts.
	JWKSBase64 string `mapstructure:"JWKS_BASE64"`

	MiddlewareRequestTimeout time.Duration `mapstructure:"MIDDLEWARE_REQUEST_TIMEOUT"`
	MiddlewareProbeTimeout   time.Duration `mapstructure:"MIDDLEWARE_PROBE_TIMEOUT"`

	AssetSweepCron    string        `mapstructure:"ASSET_SWEEP_CRON"`
	LocationSweepCron string        `mapstructure:"LOCATION_SWEEP_CRON"`
	SweepConcurrency  int           `mapstructure:"SWEEP_CONCURRENCY"`
	SweepLeaseTTL     time.Duration `mapstructure:"SWEEP_LEASE_TTL"`
	SyncWorkers       int           `mapstructure:"SYNC_WORKERS"`

	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Limits on the middleware-facing config pull, per requested host.
	PullRateLimitRPS   float64 `mapstructure:"PULL_RATE_LIMIT_RPS"`
	PullRateLimitBurst int     `mapstructure:"PULL_RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "9000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:4000")
	v.SetDefault("MIDDLEWARE_REQUEST_TIMEOUT", "25s")
	v.SetDefault("MIDDLEWARE_PROBE_TIMEOUT", "10s")
	v.SetDefault("ASSET_SWEEP_CRON", "*/30 * * * *")
	v.SetDefault("LOCATION_SWEEP_CRON", "15,45 * * * *")
	v.SetDefault("SWEEP_CONCURRENCY", 8)
	v.SetDefault("SWEEP_LEASE_TTL", "25m")
	v.SetDefault("SYNC_WORKERS", 4)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("PULL_RATE_LIMIT_RPS", 1)
	v.SetDefault("PULL_RATE_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "CURRENT_DOMAIN", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "CORS_ORIGINS",
		"JWKS_BASE64", "MIDDLEWARE_REQUEST_TIMEOUT", "MIDDLEWARE_PROBE_TIMEOUT",
		"ASSET_SWEEP_CRON", "LOCATION_SWEEP_CRON", "SWEEP_CONCURRENCY",
		"SWEEP_LEASE_TTL", "SYNC_WORKERS", "BODY_LIMIT", "REQUEST_TIMEOUT",
		"PULL_RATE_LIMIT_RPS", "PULL_RATE_LIMIT_BURST",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; all requests get SUPER scope.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
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

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}
	if c.IsProduction() && c.JWKSBase64 == "" {
		return fmt.Errorf("JWKS_BASE64 is required in production")
	}
	if c.MiddlewareRequestTimeout <= 0 || c.MiddlewareProbeTimeout <= 0 {
		return fmt.Errorf("middleware timeouts must be positive")
	}
	if c.RequestTimeout <= c.MiddlewareRequestTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must exceed MIDDLEWARE_REQUEST_TIMEOUT (%s)",
			c.RequestTimeout, c.MiddlewareRequestTimeout)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.AssetSweepCron); err != nil {
		return fmt.Errorf("ASSET_SWEEP_CRON: %w", err)
	}
	if _, err := parser.Parse(c.LocationSweepCron); err != nil {
		return fmt.Errorf("LOCATION_SWEEP_CRON: %w", err)
	}

	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1, got %d", c.SweepConcurrency)
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	return nil
}
