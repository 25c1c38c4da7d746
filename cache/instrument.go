package cache

import (
	"context"

	"github.com/briangreenhill/farmstay/internal/metrics"
)

// Instrumented counts hits and misses of the wrapped store.
type Instrumented struct {
	Store
	name string
}

// Instrument wraps s; name is the "store" label on the hit/miss counters.
func Instrument(s Store, name string) *Instrumented {
	return &Instrumented{Store: s, name: name}
}

// Scope implements Scoped for a wrapped per-visitor store.
func (i *Instrumented) Scope(ctx context.Context) string {
	return ScopeOf(ctx, i.Store)
}

// Read implements Reader.
func (i *Instrumented) Read(ctx context.Context, key string) (*Entry, bool) {
	e, ok := i.Store.Read(ctx, key)
	if ok {
		metrics.CacheHits.WithLabelValues(i.name).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(i.name).Inc()
	}
	return e, ok
}
