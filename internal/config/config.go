// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cache backends selectable with FARMSTAY_CACHE_BACKEND.
const (
	BackendSession = "session"
	BackendMemory  = "memory"
	BackendLRU     = "lru"
	BackendRedis   = "redis"
	BackendFile    = "file"
)

var backends = []string{BackendSession, BackendMemory, BackendLRU, BackendRedis, BackendFile}

// Config holds all application configuration
type Config struct {
	APIOrigin       string   `env:"FARMSTAY_API_ORIGIN" envDefault:"http://localhost:5000"`
	CanonicalOrigin string   `env:"FARMSTAY_CANONICAL_ORIGIN" envDefault:"http://localhost:5000"`
	StaleOrigins    []string `env:"FARMSTAY_STALE_ORIGINS" envDefault:"http://localhost:3000,http://127.0.0.1:5000" envSeparator:","`
	DefaultImage    string   `env:"FARMSTAY_DEFAULT_IMAGE" envDefault:"/images/placeholder.jpg"`
	APIToken        string   `env:"FARMSTAY_API_TOKEN"`
	AdminToken      string   `env:"FARMSTAY_ADMIN_TOKEN"`

	HTTPTimeout  time.Duration `env:"FARMSTAY_HTTP_TIMEOUT" envDefault:"15s"`
	SnapshotPath string        `env:"FARMSTAY_SNAPSHOT_PATH"`

	CacheBackend string        `env:"FARMSTAY_CACHE_BACKEND" envDefault:"session"`
	CacheTTL     time.Duration `env:"FARMSTAY_CACHE_TTL" envDefault:"10m"`
	CacheSize    int           `env:"FARMSTAY_CACHE_SIZE" envDefault:"512"`
	CacheDir     string        `env:"FARMSTAY_CACHE_DIR"`

	RefreshInterval string `env:"FARMSTAY_REFRESH_INTERVAL" envDefault:"@every 15m"`

	Port            string        `env:"PORT" envDefault:"8080"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
}

// Load reads configuration from environment variables
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations no component can run with.
func (c Config) Validate() error {
	if !slices.Contains(backends, c.CacheBackend) {
		return fmt.Errorf("FARMSTAY_CACHE_BACKEND must be one of %s, got %q", strings.Join(backends, ", "), c.CacheBackend)
	}
	if _, err := parseOrigin(c.APIOrigin); err != nil {
		return fmt.Errorf("FARMSTAY_API_ORIGIN: %w", err)
	}
	if c.CanonicalOrigin != "" {
		if _, err := parseOrigin(c.CanonicalOrigin); err != nil {
			return fmt.Errorf("FARMSTAY_CANONICAL_ORIGIN: %w", err)
		}
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("FARMSTAY_HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.CacheBackend == BackendLRU && c.CacheSize <= 0 {
		return fmt.Errorf("FARMSTAY_CACHE_SIZE must be positive, got %d", c.CacheSize)
	}
	return nil
}

// parseOrigin accepts scheme://host[:port] with an optional trailing slash
// and returns it without the slash.
func parseOrigin(raw string) (string, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("origin %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", raw)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("origin %q must not carry a path", raw)
	}
	return s, nil
}
