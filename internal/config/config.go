package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Auth        AuthConfig
	Cache       CacheConfig
	Remote      RemoteConfig
	Resolver    ResolverConfig
	Presence    PresenceConfig
	Enforcement EnforcementConfig
	RateLimit   RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" envDefault:"moderation-service"`
	Env                   string `env:"APP_ENV" envDefault:"development"`
	Host                  string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"APP_PORT" envDefault:"8080"`
	Version               string `env:"APP_VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	// OwnerIdentityID is the one identity bound to the fixed owner role.
	OwnerIdentityID string `env:"OWNER_IDENTITY_ID" envDefault:"owner"`
	// LocalIdentityID, when set, makes this process track its own presence
	// and enforcement as that identity (client mode).
	LocalIdentityID string `env:"LOCAL_IDENTITY_ID"`
	LocalUsername   string `env:"LOCAL_USERNAME"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" envDefault:"true"`
	MigrationsPath string `env:"POSTGRES_MIGRATIONS_PATH" envDefault:"./migrations"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" envDefault:"300"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Password      string `env:"REDIS_PASSWORD"`
	DB            int    `env:"REDIS_DB" envDefault:"0"`
	ChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"moderation"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AuthConfig defines admin token parameters.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET" envDefault:"dev-secret"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" envDefault:"60"`
}

// CacheConfig locates the local cache database.
type CacheConfig struct {
	Path     string `env:"CACHE_PATH" envDefault:"./data/cache.db"`
	PoolSize int    `env:"CACHE_POOL_SIZE" envDefault:"4"`
}

// RemoteConfig tunes the link to the authoritative store.
type RemoteConfig struct {
	ProbeInterval        time.Duration `env:"REMOTE_PROBE_INTERVAL" envDefault:"15s"`
	ProbeTimeout         time.Duration `env:"REMOTE_PROBE_TIMEOUT" envDefault:"3s"`
	FailureThreshold     int           `env:"REMOTE_FAILURE_THRESHOLD" envDefault:"5"`
	FailureWindow        time.Duration `env:"REMOTE_FAILURE_WINDOW" envDefault:"60s"`
	OpenCooldown         time.Duration `env:"REMOTE_OPEN_COOLDOWN" envDefault:"30s"`
	ReadTimeout          time.Duration `env:"REMOTE_READ_TIMEOUT" envDefault:"8s"`
	WriteTimeout         time.Duration `env:"REMOTE_WRITE_TIMEOUT" envDefault:"12s"`
	CriticalWriteTimeout time.Duration `env:"REMOTE_CRITICAL_WRITE_TIMEOUT" envDefault:"20s"`
	MaxAttempts          int           `env:"REMOTE_MAX_ATTEMPTS" envDefault:"3"`
	BaseBackoff          time.Duration `env:"REMOTE_BASE_BACKOFF" envDefault:"500ms"`
}

// ResolverConfig tunes ban detection.
type ResolverConfig struct {
	PollInterval time.Duration `env:"RESOLVER_POLL_INTERVAL" envDefault:"30s"`
}

// PresenceConfig tunes heartbeats and the reaper. OfflineThreshold must be
// strictly shorter than DeleteThreshold.
type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"PRESENCE_HEARTBEAT_INTERVAL" envDefault:"30s"`
	CleanupInterval   time.Duration `env:"PRESENCE_CLEANUP_INTERVAL" envDefault:"60s"`
	OfflineThreshold  time.Duration `env:"PRESENCE_OFFLINE_THRESHOLD" envDefault:"2m"`
	DeleteThreshold   time.Duration `env:"PRESENCE_DELETE_THRESHOLD" envDefault:"5m"`
	RunReaper         bool          `env:"PRESENCE_RUN_REAPER" envDefault:"true"`
}

// EnforcementConfig tunes the ban teardown.
type EnforcementConfig struct {
	GracePeriod   time.Duration `env:"ENFORCEMENT_GRACE_PERIOD" envDefault:"5s"`
	RedirectRoute string        `env:"ENFORCEMENT_REDIRECT_ROUTE" envDefault:"/"`
}

// RateLimitConfig bounds admin API traffic per client IP.
type RateLimitConfig struct {
	PerSecond int `env:"RATE_LIMIT_PER_SECOND" envDefault:"20"`
	Burst     int `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	p := c.Presence
	if p.HeartbeatInterval <= 0 || p.CleanupInterval <= 0 {
		return errors.New("presence intervals must be positive")
	}
	if p.OfflineThreshold <= 0 || p.DeleteThreshold <= 0 {
		return errors.New("presence thresholds must be positive")
	}
	if p.OfflineThreshold >= p.DeleteThreshold {
		return fmt.Errorf("PRESENCE_OFFLINE_THRESHOLD (%s) must be shorter than PRESENCE_DELETE_THRESHOLD (%s)",
			p.OfflineThreshold, p.DeleteThreshold)
	}
	if c.Resolver.PollInterval <= 0 {
		return errors.New("RESOLVER_POLL_INTERVAL must be positive")
	}
	if c.Remote.FailureThreshold <= 0 || c.Remote.MaxAttempts <= 0 {
		return errors.New("remote failure threshold and max attempts must be positive")
	}
	if c.App.OwnerIdentityID == "" {
		return errors.New("OWNER_IDENTITY_ID is required")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}
