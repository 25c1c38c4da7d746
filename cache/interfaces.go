// Package cache memoizes API responses for the content services and decides
// when those memoized responses must be dropped.
//
// Entries carry no TTL of their own. Staleness is handled outside the entry:
// by explicit invalidation after writes, by a full clear on refresh, or by a
// store that expires on its own (LRUStore).
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry represents a cached entry with metadata
type Entry struct {
	ETag      string          `json:"etag,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Body      json.RawMessage `json:"body"`
}

// Reader defines the interface for reading cache entries
type Reader interface {
	// Read returns the entry stored under key. A missing, expired or corrupt
	// entry is reported as a miss, never as an error.
	Read(ctx context.Context, key string) (*Entry, bool)
}

// Writer defines the interface for writing cache entries
type Writer interface {
	// Write stores entry under key, overwriting any previous value.
	Write(ctx context.Context, key string, entry *Entry) error
}

// Remover drops entries.
type Remover interface {
	Remove(ctx context.Context, key string) error
	// RemoveByPrefix drops every key starting with prefix.
	RemoveByPrefix(ctx context.Context, prefix string) error
	// Clear drops everything the store holds.
	Clear(ctx context.Context) error
}

// Store is the main interface that combines all cache operations
type Store interface {
	Reader
	Writer
	Remover
}

// Scoped is implemented by stores whose contents belong to one visitor.
// Scope names that visitor for the request in ctx.
type Scoped interface {
	Scope(ctx context.Context) string
}

// ScopeOf returns the scope of s for ctx, or "" when s is shared.
func ScopeOf(ctx context.Context, s Store) string {
	if sc, ok := s.(Scoped); ok {
		return sc.Scope(ctx)
	}
	return ""
}

// encodeEntry is the wire form every backend persists.
func encodeEntry(e *Entry) ([]byte, error) {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now()
	}
	return json.Marshal(e)
}

// decodeEntry treats anything that is not a well-formed entry as a miss.
func decodeEntry(b []byte) (*Entry, bool) {
	if len(b) == 0 {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, false
	}
	if len(e.Body) == 0 {
		return nil, false
	}
	return &e, true
}
