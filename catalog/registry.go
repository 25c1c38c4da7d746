package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/farmstay/cache"
)

// Registry holds one Service per kind over a shared store.
type Registry struct {
	services map[Kind]*Service
	inv      *cache.Invalidator
	log      zerolog.Logger
}

// NewRegistry builds a service for every kind. opts apply to each of them;
// the services share a single invalidator.
func NewRegistry(remote Transport, store cache.Store, opts ...Option) *Registry {
	if store == nil {
		store = nopStore{}
	}
	base := Service{log: zerolog.Nop()}
	for _, o := range opts {
		o(&base)
	}
	inv := base.inv
	if inv == nil {
		inv = cache.NewInvalidator(store, base.events, base.log)
	}

	r := &Registry{
		services: make(map[Kind]*Service, len(Kinds)),
		inv:      inv,
		log:      base.log,
	}
	shared := append(append([]Option{}, opts...), WithInvalidator(inv))
	for _, k := range Kinds {
		r.services[k] = New(k, remote, store, shared...)
	}
	return r
}

// Service returns the service of k.
func (r *Registry) Service(k Kind) (*Service, bool) {
	s, ok := r.services[k]
	return s, ok
}

// MustService is Service for kinds known to be registered.
func (r *Registry) MustService(k Kind) *Service {
	s, ok := r.services[k]
	if !ok {
		panic(fmt.Sprintf("catalog: no service for %q", k))
	}
	return s
}

// Invalidator is the invalidator shared by every service.
func (r *Registry) Invalidator() *cache.Invalidator { return r.inv }

// Prefetch lists kinds concurrently, every kind when none are given. Each
// listing degrades on its own; one failing never hides the others.
func (r *Registry) Prefetch(ctx context.Context, kinds ...Kind) (map[Kind]Listing, error) {
	return r.listAll(ctx, kinds)
}

// RefreshAll clears the whole cache, tells listeners, and re-warms every
// kind from the API.
func (r *Registry) RefreshAll(ctx context.Context) (map[Kind]Listing, error) {
	if err := r.inv.InvalidateAll(ctx); err != nil {
		return nil, err
	}
	return r.listAll(ctx, nil, Force())
}

// Refresh drops and re-warms a single kind.
func (r *Registry) Refresh(ctx context.Context, k Kind) (Listing, error) {
	svc, ok := r.services[k]
	if !ok {
		return Listing{}, fmt.Errorf("unknown resource type %q", k)
	}
	if err := r.inv.Invalidate(ctx, svc.keys, ""); err != nil {
		return Listing{}, err
	}
	return svc.List(ctx, Force())
}

func (r *Registry) listAll(ctx context.Context, kinds []Kind, opts ...ListOption) (map[Kind]Listing, error) {
	if len(kinds) == 0 {
		kinds = Kinds
	}

	var (
		mu  sync.Mutex
		out = make(map[Kind]Listing, len(kinds))
		g   errgroup.Group
	)
	for _, k := range kinds {
		svc, ok := r.services[k]
		if !ok {
			continue
		}
		g.Go(func() error {
			l, err := svc.List(ctx, opts...)
			if err != nil {
				return err
			}
			mu.Lock()
			out[k] = l
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	for k, l := range out {
		if l.Warning != nil {
			r.log.Warn().Err(l.Warning).Str("kind", string(k)).Str("source", string(l.Source)).Msg("prefetch degraded")
		}
	}
	return out, nil
}
