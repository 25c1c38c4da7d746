// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/farmstay/internal/app"
	"github.com/briangreenhill/farmstay/internal/config"
	"github.com/briangreenhill/farmstay/internal/http/routes"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	a, err := app.New(cfg, sess, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build content layer")
	}
	defer a.Close()

	// Queue for shared refreshes run by the worker
	var enq routes.Enqueuer
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("close asynq client")
			}
		}()
		enq = client
	}

	// Warm the shared backends; per-session caches fill on first visit.
	if cfg.CacheBackend != config.BackendSession {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		if _, err := a.Catalog.Prefetch(ctx); err != nil {
			logger.Warn().Err(err).Msg("prefetch")
		}
		cancel()
	}

	// Router / server
	s := routes.New(routes.ServerOptions{
		Sess:        sess,
		Catalog:     a.Catalog,
		Bus:         a.Bus,
		Enqueuer:    enq,
		AdminToken:  cfg.AdminToken,
		SharedCache: cfg.CacheBackend != config.BackendSession,
		Log:         logger,
	})
	h := hlog.NewHandler(logger)(
		hlog.RequestIDHandler("req_id", "X-Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Stringer("url", r.URL).
					Int("status", status).
					Int("size", size).
					Dur("duration", d).
					Msg("request")
			})(s.Router)))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info().Str("port", cfg.Port).Msg("starting gateway")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("serve")
	}
}
