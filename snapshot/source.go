package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/api"
)

// DefaultPath is where the site serves the document.
const DefaultPath = "/data/db.json"

// Loader fetches the raw document.
type Loader interface {
	Load(ctx context.Context) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]byte, error)

func (f LoaderFunc) Load(ctx context.Context) ([]byte, error) { return f(ctx) }

// FileLoader reads the document from disk.
func FileLoader(path string) Loader {
	return LoaderFunc(func(context.Context) ([]byte, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		return b, nil
	})
}

// HTTPLoader fetches the document from the site origin c points at.
func HTTPLoader(c *api.Client, path string) Loader {
	if path == "" {
		path = DefaultPath
	}
	return LoaderFunc(func(ctx context.Context) ([]byte, error) {
		b, err := c.GetRaw(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("fetch snapshot: %w", err)
		}
		return b, nil
	})
}

// Source memoizes the snapshot and layers simulated records over it. Records
// appended to the overlay live as long as the Source; nothing is written back.
type Source struct {
	loader Loader
	log    zerolog.Logger

	mu      sync.Mutex
	snap    *Snapshot
	overlay map[string][]json.RawMessage
}

type SourceOption func(*Source)

func WithLogger(l zerolog.Logger) SourceOption {
	return func(s *Source) { s.log = l }
}

func NewSource(l Loader, opts ...SourceOption) *Source {
	s := &Source{
		loader:  l,
		log:     zerolog.Nop(),
		overlay: make(map[string][]json.RawMessage),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the snapshot, loading it on first use. A failed load is not
// remembered, so the next call tries again.
func (s *Source) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Source) loadLocked(ctx context.Context) (*Snapshot, error) {
	if s.snap != nil {
		return s.snap, nil
	}
	if s.loader == nil {
		return nil, fmt.Errorf("snapshot: no loader configured")
	}

	b, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := Parse(b)
	if err != nil {
		return nil, err
	}
	s.snap = snap
	s.log.Debug().Msg("snapshot loaded")
	return snap, nil
}

// Records returns the snapshot's records for collection followed by any
// overlay records. When the snapshot cannot be loaded the overlay is still
// returned alongside the error.
func (s *Source) Records(ctx context.Context, collection string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	over := s.overlay[collection]
	snap, err := s.loadLocked(ctx)
	if err != nil {
		out := make([]json.RawMessage, len(over))
		copy(out, over)
		return out, err
	}

	base := snap.Collection(collection)
	out := make([]json.RawMessage, 0, len(base)+len(over))
	out = append(out, base...)
	out = append(out, over...)
	return out, nil
}

// Append adds a simulated record to collection.
func (s *Source) Append(collection string, rec json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[collection] = append(s.overlay[collection], rec)
}

// MaxID is the highest numeric id in collection across the snapshot and the
// overlay. An unloadable snapshot counts as empty.
func (s *Source) MaxID(ctx context.Context, collection string) int64 {
	recs, err := s.Records(ctx, collection)
	if err != nil {
		s.log.Debug().Err(err).Str("kind", collection).Msg("snapshot unavailable for id synthesis")
	}
	return MaxID(recs)
}
