package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/catalog"
	"github.com/briangreenhill/farmstay/internal/app"
	"github.com/briangreenhill/farmstay/internal/config"
	"github.com/briangreenhill/farmstay/internal/jobs"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("proc", "worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	// The worker refreshes the cache the gateways share.
	if cfg.CacheBackend == config.BackendSession {
		cfg.CacheBackend = config.BackendRedis
	}

	a, err := app.New(cfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build content layer")
	}
	defer a.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    2,
		StrictPriority: false,
		Queues: map[string]int{
			jobs.QueueRefresh: 10, // higher priority
			"default":         5,  // default priority
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskRefreshCache, refreshHandler(a.Catalog, logger))

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	task, err := jobs.NewRefreshCacheTask(jobs.RefreshCachePayload{Reason: "schedule"})
	if err != nil {
		logger.Fatal().Err(err).Msg("build refresh task")
	}
	entryID, err := scheduler.Register(cfg.RefreshInterval, task)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.RefreshInterval).Msg("register refresh schedule")
	}
	logger.Info().Str("entry", entryID).Str("schedule", cfg.RefreshInterval).Msg("refresh scheduled")

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Fatal().Err(err).Msg("scheduler")
		}
	}()

	logger.Info().Msg("Worker running...")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker")
	}
}

// refresher is what the refresh task needs from the catalog.
type refresher interface {
	RefreshAll(ctx context.Context) (map[catalog.Kind]catalog.Listing, error)
	Refresh(ctx context.Context, k catalog.Kind) (catalog.Listing, error)
}

func refreshHandler(r refresher, logger zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p jobs.RefreshCachePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			logger.Error().Err(err).Msg("[asynq] bad payload")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		log := logger.With().Str("kind", p.Kind).Str("reason", p.Reason).Logger()
		log.Info().Msg("[refresh] start")
		start := time.Now()

		listings := map[catalog.Kind]catalog.Listing{}
		var err error
		if p.Kind == "" {
			listings, err = r.RefreshAll(ctx)
		} else {
			var k catalog.Kind
			if k, err = catalog.ParseKind(p.Kind); err != nil {
				log.Error().Err(err).Msg("[refresh] unknown kind (dropping job)")
				return nil
			}
			var l catalog.Listing
			if l, err = r.Refresh(ctx, k); err == nil {
				listings[k] = l
			}
		}
		duration := time.Since(start)

		if err == nil {
			err = degradedCause(listings)
		}
		if err != nil {
			if isRetryableError(err) {
				log.Warn().Err(err).Dur("duration", duration).Msg("[refresh] retryable error")
				return err // allow retry
			}
			log.Error().Err(err).Dur("duration", duration).Msg("[refresh] permanent error (dropping job)")
			return nil
		}
		log.Info().Int("kinds", len(listings)).Dur("duration", duration).Msg("[refresh] done")
		return nil
	}
}

// degradedCause returns the first reason a listing did not come from the
// API. A re-warm that only reached the snapshot has not refreshed anything.
func degradedCause(listings map[catalog.Kind]catalog.Listing) error {
	for _, k := range catalog.Kinds {
		l, ok := listings[k]
		if ok && l.Degraded() && l.Warning != nil {
			return fmt.Errorf("refresh %s: %w", k, l.Warning)
		}
	}
	return nil
}

// isRetryableError determines if an error should trigger a job retry
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return api.IsUnavailable(err)
}
