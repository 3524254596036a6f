package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// API modes of the relay.
const (
	ModeStub  = "stub"
	ModeProxy = "proxy"
	ModeLocal = "local"
)

// Config holds all relay configuration.
type Config struct {
	Server    ServerConfig    `json:"server" env:",prefix=SERVER_"`
	Assets    AssetsConfig    `json:"assets" env:",prefix=ASSETS_"`
	API       APIConfig       `json:"api" env:",prefix=API_"`
	Cache     CacheConfig     `json:"cache" env:",prefix=CACHE_"`
	Database  DatabaseConfig  `json:"database" env:",prefix=DATABASE_"`
	Local     LocalConfig     `json:"local" env:",prefix=LOCAL_"`
	RateLimit RateLimitConfig `json:"rate_limit" env:",prefix=RATE_LIMIT_"`
	Tracing   TracingConfig   `json:"tracing" env:",prefix=TRACING_"`
	Events    EventsConfig    `json:"events" env:",prefix=EVENTS_"`
	Log       LogConfig       `json:"log" env:",prefix=LOG_"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port         string `json:"port" env:"PORT,overwrite,default=8080"`
	Host         string `json:"host" env:"HOST,overwrite"`
	ReadTimeout  int    `json:"read_timeout" env:"READ_TIMEOUT,overwrite,default=15"`   // seconds
	WriteTimeout int    `json:"write_timeout" env:"WRITE_TIMEOUT,overwrite,default=30"` // seconds
}

// AssetsConfig points at the static asset tree.
type AssetsConfig struct {
	Root string `json:"root" env:"ROOT,overwrite,default=./public"`
}

// APIConfig selects how the two API endpoints are served.
type APIConfig struct {
	Mode              string `json:"mode" env:"MODE,overwrite,default=stub"`
	UpstreamOrigin    string `json:"upstream_origin" env:"UPSTREAM_ORIGIN,overwrite"`
	UpstreamTimeoutMS int    `json:"upstream_timeout_ms" env:"UPSTREAM_TIMEOUT_MS,overwrite,default=10000"`
	OverlayKey        string `json:"overlay_key" env:"OVERLAY_KEY,overwrite"`
	MaxBodyBytes      int64  `json:"max_body_bytes" env:"MAX_BODY_BYTES,overwrite,default=1048576"`
}

// CacheConfig configures the proxy catalog cache.
type CacheConfig struct {
	Enabled       bool   `json:"enabled" env:"ENABLED,overwrite"`
	Backend       string `json:"backend" env:"BACKEND,overwrite,default=memory"` // memory or redis
	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR,overwrite,default=localhost:6379"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD,overwrite"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB,overwrite"`
	TTLSeconds    int    `json:"ttl_seconds" env:"TTL_SECONDS,overwrite,default=30"`
}

// DatabaseConfig configures the local backend store.
type DatabaseConfig struct {
	Driver       string `json:"driver" env:"DRIVER,overwrite,default=sqlite3"` // sqlite3 or postgres
	DSN          string `json:"dsn" env:"DSN,overwrite,default=./overlay_demo.db"`
	SeedDemo     bool   `json:"seed_demo" env:"SEED_DEMO,overwrite,default=true"`
	DemoMerchant string `json:"demo_merchant" env:"DEMO_MERCHANT,overwrite,default=demo-merchant"`
}

// LocalConfig holds pricing settings of the local backend.
type LocalConfig struct {
	FeeBPS int64 `json:"fee_bps" env:"FEE_BPS,overwrite,default=250"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled" env:"ENABLED,overwrite,default=true"`
	RPS     float64 `json:"rps" env:"RPS,overwrite,default=10"`
	Burst   int     `json:"burst" env:"BURST,overwrite,default=20"`
}

// TracingConfig configures the Jaeger exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED,overwrite"`
	Endpoint    string `json:"endpoint" env:"ENDPOINT,overwrite,default=http://localhost:14268/api/traces"`
	Environment string `json:"environment" env:"ENVIRONMENT,overwrite,default=development"`
}

// EventsConfig toggles the in-process event hooks.
type EventsConfig struct {
	Enabled bool `json:"enabled" env:"ENABLED,overwrite,default=true"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `json:"level" env:"LEVEL,overwrite,default=info"`
	Format string `json:"format" env:"FORMAT,overwrite,default=json"` // json or console
}

// LoadConfig loads configuration from an optional JSON file and the
// environment. Environment variables take precedence over file values, and
// defaults fill whatever neither sets.
func LoadConfig(ctx context.Context, configFile string) (*Config, error) {
	return load(ctx, configFile, envconfig.OsLookuper())
}

func load(ctx context.Context, configFile string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	cfg.API.Mode = strings.ToLower(strings.TrimSpace(cfg.API.Mode))
	cfg.API.UpstreamOrigin = strings.TrimRight(cfg.API.UpstreamOrigin, "/")
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// Validate validates the configuration and returns the first problem.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Assets.Root == "" {
		return fmt.Errorf("assets root is required")
	}

	switch c.API.Mode {
	case ModeStub, ModeLocal:
	case ModeProxy:
		if c.API.UpstreamOrigin == "" {
			return fmt.Errorf("proxy mode requires an upstream origin")
		}
		u, err := url.Parse(c.API.UpstreamOrigin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid upstream origin %q", c.API.UpstreamOrigin)
		}
		if c.API.UpstreamTimeoutMS <= 0 {
			return fmt.Errorf("upstream timeout must be positive")
		}
	default:
		return fmt.Errorf("unknown api mode %q", c.API.Mode)
	}
	if c.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	if c.Cache.Enabled {
		if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
			return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
		}
		if c.Cache.TTLSeconds <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
	}

	if c.API.Mode == ModeLocal {
		if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
			return fmt.Errorf("unknown database driver %q", c.Database.Driver)
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required")
		}
		if c.Local.FeeBPS < 0 || c.Local.FeeBPS > 10000 {
			return fmt.Errorf("local fee must be between 0 and 10000 bps")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			return fmt.Errorf("rate limit rps must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// UpstreamTimeout returns the proxy upstream deadline.
func (c *APIConfig) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMS) * time.Millisecond
}

// TTL returns the cache entry lifetime.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
