// Package app wires the content layer together from configuration. The API
// gateway, the worker and the CLI all start here.
package app

import (
	"fmt"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/cache"
	"github.com/briangreenhill/farmstay/catalog"
	"github.com/briangreenhill/farmstay/internal/config"
	"github.com/briangreenhill/farmstay/internal/events"
	"github.com/briangreenhill/farmstay/snapshot"
)

// RedisNamespace prefixes every cache key the layer writes to Redis.
const RedisNamespace = "farmstay:cache:"

// App is a configured content layer.
type App struct {
	Config   config.Config
	Client   *api.Client
	Store    cache.Store
	Snapshot *snapshot.Source
	Bus      *events.Bus
	Catalog  *catalog.Registry

	closers []func() error
}

// New validates cfg, settles the API origin and builds every service over
// the configured cache backend. sess is required for the session backend
// only.
func New(cfg config.Config, sess *scs.SessionManager, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	norm, err := config.FixOrigins(&cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Bus: events.NewBus()}
	a.Client = api.New(
		api.WithBaseURL(cfg.APIOrigin),
		api.WithTimeout(cfg.HTTPTimeout),
		api.WithToken(cfg.APIToken),
	)

	store, err := a.openStore(sess)
	if err != nil {
		return nil, err
	}
	a.Store = cache.Instrument(store, cfg.CacheBackend)

	loader := snapshot.HTTPLoader(a.Client, snapshot.DefaultPath)
	if cfg.SnapshotPath != "" {
		loader = snapshot.FileLoader(cfg.SnapshotPath)
	}
	a.Snapshot = snapshot.NewSource(loader, snapshot.WithLogger(log))

	a.Catalog = catalog.NewRegistry(a.Client, a.Store,
		catalog.WithNormalizer(norm),
		catalog.WithSnapshot(a.Snapshot),
		catalog.WithEvents(a.Bus),
		catalog.WithLogger(log),
	)

	log.Info().
		Str("origin", cfg.APIOrigin).
		Str("backend", cfg.CacheBackend).
		Str("snapshot", cfg.SnapshotPath).
		Msg("content layer ready")
	return a, nil
}

func (a *App) openStore(sess *scs.SessionManager) (cache.Store, error) {
	cfg := a.Config
	switch cfg.CacheBackend {
	case config.BackendSession:
		if sess == nil {
			return nil, fmt.Errorf("cache backend %q needs a session manager", cfg.CacheBackend)
		}
		return cache.NewSessionStore(sess), nil
	case config.BackendMemory:
		return cache.NewMemoryStore(), nil
	case config.BackendLRU:
		return cache.NewLRUStore(cfg.CacheSize, cfg.CacheTTL), nil
	case config.BackendRedis:
		rdb, err := cache.DialRedis(cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		return cache.NewRedisStore(rdb, RedisNamespace), nil
	case config.BackendFile:
		if cfg.CacheDir != "" {
			return cache.NewFileCacheAt(cfg.CacheDir)
		}
		return cache.NewFileCache("")
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
