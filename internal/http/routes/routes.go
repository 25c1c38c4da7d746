package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/farmstay/catalog"
	"github.com/briangreenhill/farmstay/internal/events"
	appmw "github.com/briangreenhill/farmstay/internal/http/middleware"
)

// Enqueuer is the part of asynq.Client the gateway uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Server struct {
	Router   *chi.Mux
	Sess     *scs.SessionManager
	Catalog  *catalog.Registry
	Bus      *events.Bus
	Enqueuer Enqueuer // optional; shared refreshes are rejected without it
	Log      zerolog.Logger
}

type ServerOptions struct {
	Sess       *scs.SessionManager
	Catalog    *catalog.Registry
	Bus        *events.Bus
	Enqueuer   Enqueuer
	AdminToken string
	// SharedCache is set when the cache backend is not per-session; a refresh
	// then clears every visitor's entries and needs the admin token.
	SharedCache bool
	Log         zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, Sess: opts.Sess, Catalog: opts.Catalog, Bus: opts.Bus, Enqueuer: opts.Enqueuer, Log: opts.Log}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEvents)

	adminOnly := appmw.RequireAdminToken(opts.AdminToken)

	r.Group(func(sr chi.Router) {
		sr.Use(s.Sess.LoadAndSave)

		sr.Get("/api/{kind}", s.handleList)
		sr.Get("/api/{kind}/slug/{slug}", s.handleGetBySlug)
		sr.Get("/api/{kind}/{id}", s.handleGet)
		sr.Post("/refresh", refreshGuard(opts.SharedCache, adminOnly, http.HandlerFunc(s.handleRefresh)))

		sr.Group(func(ar chi.Router) {
			ar.Use(adminOnly)
			ar.Post("/api/{kind}", s.handleCreate)
			ar.Post("/api/{kind}/{id}", s.handleUpdate)
			ar.Delete("/api/{kind}/{id}", s.handleDelete)
		})
	})

	return s
}

// refreshGuard lets anonymous visitors refresh only their own session cache.
// Refreshes that reach a shared store or the worker queue go through guard.
func refreshGuard(sharedCache bool, guard func(http.Handler) http.Handler, next http.Handler) http.HandlerFunc {
	guarded := guard(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if sharedCache || wantsSharedRefresh(r) {
			guarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	}
}

func wantsSharedRefresh(r *http.Request) bool {
	shared, _ := strconv.ParseBool(r.URL.Query().Get("shared"))
	return shared
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, extra map[string]any) {
	body := map[string]any{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	s.writeJSON(w, r, status, body)
}
