package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/cache"
	"github.com/briangreenhill/farmstay/imageurl"
	"github.com/briangreenhill/farmstay/internal/events"
	"github.com/briangreenhill/farmstay/internal/metrics"
	"github.com/briangreenhill/farmstay/snapshot"
)

// Transport is the part of api.Client a Service uses.
type Transport interface {
	Get(ctx context.Context, path string, q map[string]string, etag string) (*api.Response, error)
	Post(ctx context.Context, path string, p *api.Payload) (*api.Response, error)
	Delete(ctx context.Context, path string) error
}

// Service reads and writes one resource type.
type Service struct {
	kind     Kind
	keys     cache.Keys
	remote   Transport
	store    cache.Store
	fallback *snapshot.Source
	norm     imageurl.Normalizer
	events   events.Publisher
	log      zerolog.Logger
	inv      *cache.Invalidator

	mu      sync.Mutex
	lastMax int64 // highest id of the last successful listing
	lastSim int64 // last simulated id handed out
}

type Option func(*Service)

// WithSnapshot sets the fallback source. Without one, failed reads have
// nowhere to go.
func WithSnapshot(s *snapshot.Source) Option {
	return func(svc *Service) { svc.fallback = s }
}

func WithNormalizer(n imageurl.Normalizer) Option {
	return func(svc *Service) { svc.norm = n }
}

func WithEvents(p events.Publisher) Option {
	return func(svc *Service) { svc.events = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(svc *Service) { svc.log = l }
}

// WithInvalidator shares one invalidator between services. By default each
// service builds its own over its store.
func WithInvalidator(inv *cache.Invalidator) Option {
	return func(svc *Service) { svc.inv = inv }
}

// New returns the service for kind. store may be nil, in which case nothing
// is cached.
func New(kind Kind, remote Transport, store cache.Store, opts ...Option) *Service {
	if store == nil {
		store = nopStore{}
	}
	s := &Service{
		kind:   kind,
		keys:   kind.Keys(),
		remote: remote,
		store:  store,
		norm:   imageurl.New(""),
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With().Str("kind", string(kind)).Logger()
	if s.inv == nil {
		s.inv = cache.NewInvalidator(s.store, s.events, s.log)
	}
	return s
}

func (s *Service) Kind() Kind { return s.kind }

// Keys is the cache key table the service writes under.
func (s *Service) Keys() cache.Keys { return s.keys }

// Source tells where a listing came from.
type Source string

const (
	FromCache    Source = "cache"
	FromRemote   Source = "remote"
	FromFallback Source = "fallback"
	FromNone     Source = "none"
)

// Listing is the result of List. Records is never nil. Warning is set when
// the API could not be used; with FromNone it also means the snapshot failed.
type Listing struct {
	Records []Record `json:"records"`
	Source  Source   `json:"source"`
	Warning error    `json:"-"`
}

// Degraded reports whether the listing did not come from the API or a cache
// of it.
func (l Listing) Degraded() bool {
	return l.Source == FromFallback || l.Source == FromNone
}

type listQuery struct {
	force    bool
	page     int
	limit    int
	category string
}

type ListOption func(*listQuery)

// Force skips the cache read. The result is still written through.
func Force() ListOption {
	return func(q *listQuery) { q.force = true }
}

// Page requests one page of the listing. Pages start at 1.
func Page(page, limit int) ListOption {
	return func(q *listQuery) {
		if page < 1 {
			page = 1
		}
		q.page, q.limit = page, limit
	}
}

// Category filters the listing by category id. It takes precedence over Page.
func Category(id string) ListOption {
	return func(q *listQuery) { q.category = id }
}

func (q listQuery) key(k cache.Keys) string {
	switch {
	case q.category != "":
		return k.Category(q.category)
	case q.limit > 0:
		return k.Page(q.page, q.limit)
	default:
		return k.All()
	}
}

func (q listQuery) params() map[string]string {
	switch {
	case q.category != "":
		return map[string]string{"category": q.category}
	case q.limit > 0:
		return map[string]string{"page": strconv.Itoa(q.page), "limit": strconv.Itoa(q.limit)}
	default:
		return nil
	}
}

// List returns the records of the type. Failures degrade: first to the
// snapshot, then to an empty listing with Warning set. The only error
// returned is ctx's, when it ends before the listing is ready; nothing is
// cached in that case.
func (s *Service) List(ctx context.Context, opts ...ListOption) (Listing, error) {
	var q listQuery
	for _, o := range opts {
		o(&q)
	}
	key := q.key(s.keys)
	log := s.log.With().Str("key", key).Logger()

	var cachedRecs []Record
	cached, hit := s.store.Read(ctx, key)
	if hit && json.Unmarshal(cached.Body, &cachedRecs) != nil {
		hit = false
	}
	if hit && !q.force {
		s.observe(cachedRecs)
		log.Debug().Str("source", string(FromCache)).Msg("listing")
		return Listing{Records: nonNil(cachedRecs), Source: FromCache}, nil
	}

	// A forced refresh still revalidates with the cached ETag; a 304 reuses
	// the cached body.
	var etag string
	if hit {
		etag = cached.ETag
	}
	resp, err := s.remote.Get(ctx, s.kind.Path(), q.params(), etag)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Listing{Records: []Record{}, Source: FromNone}, ctxErr
	}

	if err == nil {
		var recs []Record
		body := resp.Data
		if resp.NotModified && hit {
			body = cached.Body
		}
		if derr := json.Unmarshal(body, &recs); derr != nil {
			err = &api.ShapeError{Path: s.kind.Path(), Reason: "data is not a list of records: " + derr.Error()}
		} else {
			recs = normalizeAll(recs, s.norm)
			s.observe(recs)
			if werr := cache.PutJSONWithETag(ctx, s.store, key, recs, resp.ETag); werr != nil {
				log.Warn().Err(werr).Msg("cache write failed")
			}
			log.Debug().Str("source", string(FromRemote)).Int("count", len(recs)).Msg("listing")
			return Listing{Records: recs, Source: FromRemote}, nil
		}
	}

	log.Warn().Err(err).Msg("api unavailable, using snapshot")
	recs, ferr := s.fallbackList(ctx, q)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Listing{Records: []Record{}, Source: FromNone}, ctxErr
	}
	if ferr != nil {
		werr := fmt.Errorf("list %s: %w", s.kind.Plural(), errors.Join(err, ferr))
		log.Error().Err(werr).Msg("listing unavailable")
		s.publish(events.Event{Type: events.Degraded, Kind: s.kind.Plural(), Message: werr.Error()})
		return Listing{Records: []Record{}, Source: FromNone, Warning: werr}, nil
	}
	s.observe(recs)
	metrics.FallbackReads.WithLabelValues(s.kind.Plural()).Inc()
	return Listing{
		Records: recs,
		Source:  FromFallback,
		Warning: fmt.Errorf("list %s: %w", s.kind.Plural(), err),
	}, nil
}

// fallbackList reads the type from the snapshot and applies q to it the way
// the API would.
func (s *Service) fallbackList(ctx context.Context, q listQuery) ([]Record, error) {
	if s.fallback == nil {
		return nil, errors.New("no snapshot configured")
	}
	raw, err := s.fallback.Records(ctx, s.kind.Plural())
	if err != nil && len(raw) == 0 {
		return nil, err
	}
	recs := decodeRecords(raw)

	switch {
	case q.category != "":
		filtered := recs[:0]
		for _, r := range recs {
			if string(r.CategoryID) == q.category || string(r.ChildNavID) == q.category {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	case q.limit > 0:
		start := (q.page - 1) * q.limit
		if start >= len(recs) {
			recs = recs[:0]
		} else {
			end := min(start+q.limit, len(recs))
			recs = recs[start:end]
		}
	}
	return normalizeAll(recs, s.norm), nil
}

// Get returns one record by id. A 404 from the API is final. When the API is
// unavailable the snapshot answers; an id it does not hold is a
// *NotFoundError as well.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.getOne(ctx, s.keys.Item(id), s.kind.Path()+"/"+url.PathEscape(id), id, func(r Record) bool {
		return string(r.ID) == id
	})
}

// GetBySlug is Get keyed by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Record, error) {
	return s.getOne(ctx, s.keys.Slug(slug), s.kind.Path()+"/slug/"+url.PathEscape(slug), slug, func(r Record) bool {
		return r.Slug == slug
	})
}

func (s *Service) getOne(ctx context.Context, key, path, ref string, match func(Record) bool) (Record, error) {
	log := s.log.With().Str("key", key).Str("id", ref).Logger()

	if rec, ok := cache.GetJSON[Record](ctx, s.store, key); ok {
		log.Debug().Str("source", string(FromCache)).Msg("record")
		return rec, nil
	}

	resp, err := s.remote.Get(ctx, path, nil, "")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Record{}, ctxErr
	}
	if err == nil {
		var rec Record
		if derr := resp.Decode(&rec); derr != nil {
			err = &api.ShapeError{Path: path, Reason: "data is not a record: " + derr.Error()}
		} else {
			rec = Normalize(rec, s.norm)
			if werr := cache.PutJSONWithETag(ctx, s.store, key, rec, resp.ETag); werr != nil {
				log.Warn().Err(werr).Msg("cache write failed")
			}
			return rec, nil
		}
	}

	if api.IsNotFound(err) {
		return Record{}, &NotFoundError{Kind: s.kind, ID: ref}
	}
	if !api.IsUnavailable(err) {
		return Record{}, fmt.Errorf("get %s %s: %w", s.kind, ref, err)
	}

	if s.fallback == nil {
		return Record{}, fmt.Errorf("get %s %s: %w", s.kind, ref, err)
	}
	log.Warn().Err(err).Msg("api unavailable, using snapshot")
	raw, ferr := s.fallback.Records(ctx, s.kind.Plural())
	for _, r := range decodeRecords(raw) {
		if match(r) {
			metrics.FallbackReads.WithLabelValues(s.kind.Plural()).Inc()
			return Normalize(r, s.norm), nil
		}
	}
	if ferr != nil {
		return Record{}, fmt.Errorf("get %s %s: %w", s.kind, ref, errors.Join(err, ferr))
	}
	return Record{}, &NotFoundError{Kind: s.kind, ID: ref}
}

// observe remembers the highest id of any listing handed out, whichever
// source it came from.
func (s *Service) observe(recs []Record) {
	m := maxID(recs)
	s.mu.Lock()
	if m > s.lastMax {
		s.lastMax = m
	}
	s.mu.Unlock()
}

func (s *Service) publish(e events.Event) {
	if s.events != nil {
		s.events.Publish(e)
	}
}

func nonNil(recs []Record) []Record {
	if recs == nil {
		return []Record{}
	}
	return recs
}

// nopStore caches nothing.
type nopStore struct{}

func (nopStore) Read(context.Context, string) (*cache.Entry, bool) { return nil, false }
func (nopStore) Write(context.Context, string, *cache.Entry) error { return nil }
func (nopStore) Remove(context.Context, string) error              { return nil }
func (nopStore) RemoveByPrefix(context.Context, string) error      { return nil }
func (nopStore) Clear(context.Context) error                       { return nil }
