package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/internal/events"
	"github.com/briangreenhill/farmstay/internal/metrics"
)

// Invalidator drops cached entries that may no longer match the server.
//
// Invalidation is by prefix: every listing, page, filter and record of a
// type goes at once. Over-invalidating only costs a fetch.
type Invalidator struct {
	Store  Store
	Events events.Publisher // optional
	Log    zerolog.Logger
}

// NewInvalidator returns an Invalidator over store. pub may be nil.
func NewInvalidator(store Store, pub events.Publisher, log zerolog.Logger) *Invalidator {
	return &Invalidator{Store: store, Events: pub, Log: log}
}

// Invalidate drops every entry of the type described by keys. When id is set
// the record key is removed explicitly as well.
func (inv *Invalidator) Invalidate(ctx context.Context, keys Keys, id string) error {
	var errs []error
	if id != "" {
		if err := inv.Store.Remove(ctx, keys.Item(id)); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", keys.Item(id), err))
		}
	}
	for _, p := range keys.Prefixes() {
		if err := inv.Store.RemoveByPrefix(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("remove prefix %s: %w", p, err))
		}
	}
	metrics.Invalidations.WithLabelValues(keys.String()).Inc()

	err := errors.Join(errs...)
	if err != nil {
		inv.Log.Warn().Err(err).Str("kind", keys.String()).Str("id", id).Msg("cache invalidation incomplete")
		return err
	}
	inv.Log.Debug().Str("kind", keys.String()).Str("id", id).Msg("cache invalidated")

	if inv.Events != nil {
		inv.Events.Publish(events.Event{Type: events.DataChanged, Kind: keys.String(), RecordID: id})
	}
	return nil
}

// InvalidateAll clears the whole store and tells listeners to re-fetch. For
// a per-visitor store only that visitor's entries went, so the event carries
// its scope.
func (inv *Invalidator) InvalidateAll(ctx context.Context) error {
	metrics.Invalidations.WithLabelValues("all").Inc()
	if err := inv.Store.Clear(ctx); err != nil {
		inv.Log.Warn().Err(err).Msg("cache clear failed")
		return fmt.Errorf("clear cache: %w", err)
	}
	inv.Log.Info().Msg("cache cleared")

	if inv.Events != nil {
		inv.Events.Publish(events.Event{Type: events.DataRefreshed, Scope: ScopeOf(ctx, inv.Store)})
	}
	return nil
}
