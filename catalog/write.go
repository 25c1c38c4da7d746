package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/internal/metrics"
)

// WriteResult is what Create returns: either Persisted or Simulated.
// Callers type-switch on it.
type WriteResult interface {
	isWriteResult()
}

// Persisted is a record the API stored.
type Persisted struct {
	Record Record
}

// Simulated is a record made up locally because the API could not be
// reached. It exists only in this process's snapshot overlay.
type Simulated struct {
	Record   Record
	Cause    error
	LocalRef string
}

func (Persisted) isWriteResult() {}
func (Simulated) isWriteResult() {}

// RecordOf returns the record carried by r.
func RecordOf(r WriteResult) Record {
	switch v := r.(type) {
	case Persisted:
		return v.Record
	case Simulated:
		return v.Record
	default:
		return Record{}
	}
}

// Create posts p as a new record. When the API cannot be reached, or fails
// with a 5xx, the record is simulated instead. Any other failure is returned
// as is and nothing is invalidated.
func (s *Service) Create(ctx context.Context, p *api.Payload) (WriteResult, error) {
	resp, err := s.remote.Post(ctx, s.kind.Path(), p)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			s.invalidateDetached(ctx, "")
		}
		return nil, ctxErr
	}

	if err != nil {
		if !simulatable(err) {
			return nil, fmt.Errorf("create %s: %w", s.kind, err)
		}
		sim, serr := s.simulate(ctx, p, err)
		if serr != nil {
			return nil, fmt.Errorf("create %s: %w", s.kind, errors.Join(err, serr))
		}
		return sim, nil
	}

	rec, err := s.decodeWritten(resp, s.kind.Path())
	if err != nil {
		s.invalidate(ctx, "")
		return nil, fmt.Errorf("create %s: %w", s.kind, err)
	}
	s.invalidate(ctx, string(rec.ID))
	s.log.Info().Str("id", string(rec.ID)).Msg("created")
	return Persisted{Record: rec}, nil
}

// Update posts p over record id.
func (s *Service) Update(ctx context.Context, id string, p *api.Payload) (Record, error) {
	path := s.kind.Path() + "/" + url.PathEscape(id)
	resp, err := s.remote.Post(ctx, path, p)
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			s.invalidateDetached(ctx, id)
		}
		return Record{}, ctxErr
	}
	if err != nil {
		return Record{}, fmt.Errorf("update %s %s: %w", s.kind, id, err)
	}

	s.invalidate(ctx, id)
	rec, err := s.decodeWritten(resp, path)
	if err != nil {
		return Record{}, fmt.Errorf("update %s %s: %w", s.kind, id, err)
	}
	s.log.Info().Str("id", id).Msg("updated")
	return rec, nil
}

// Delete removes record id.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.remote.Delete(ctx, s.kind.Path()+"/"+url.PathEscape(id))
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			s.invalidateDetached(ctx, id)
		}
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", s.kind, id, err)
	}
	s.invalidate(ctx, id)
	s.log.Info().Str("id", id).Msg("deleted")
	return nil
}

func (s *Service) decodeWritten(resp *api.Response, path string) (Record, error) {
	var rec Record
	if err := resp.Decode(&rec); err != nil {
		return Record{}, &api.ShapeError{Path: path, Reason: "data is not a record: " + err.Error()}
	}
	return Normalize(rec, s.norm), nil
}

// invalidate runs after the API accepted a write. Failures are logged by
// the invalidator; the write itself stands.
func (s *Service) invalidate(ctx context.Context, id string) {
	_ = s.inv.Invalidate(ctx, s.keys, id)
}

// invalidateDetached drops the caches of a write that the server accepted
// after the caller gave up. Stale entries would otherwise outlive the write.
func (s *Service) invalidateDetached(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.invalidate(ctx, id)
}

// simulatable reports whether a failed create should be simulated: the
// request never got an answer, or the server broke.
func simulatable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *api.TransportError
	if errors.As(err, &te) {
		return true
	}
	var he *api.HTTPError
	return errors.As(err, &he) && he.StatusCode >= http.StatusInternalServerError
}

// simulate builds the record the API would have returned, with an id above
// every id seen so far, and adds it to the snapshot overlay.
func (s *Service) simulate(ctx context.Context, p *api.Payload, cause error) (Simulated, error) {
	if p == nil {
		p = api.NewPayload()
	}

	var floor int64
	if s.fallback != nil {
		floor = s.fallback.MaxID(ctx, s.kind.Plural())
	}
	s.mu.Lock()
	next := max(s.lastMax, s.lastSim, floor) + 1
	s.lastSim = next
	s.mu.Unlock()

	images := make([]string, 0, len(p.Images)+len(p.Uploads))
	images = append(images, p.Images...)
	for range p.Uploads {
		images = append(images, s.norm.Placeholder())
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rec := Record{
		ID:         ID(strconv.FormatInt(next, 10)),
		Name:       p.Get("name"),
		Title:      p.Get("title"),
		Slug:       p.Get("slug"),
		Summary:    p.Get("summary"),
		Content:    p.Get("content"),
		ChildNavID: ID(p.Get("child_nav_id")),
		CategoryID: ID(p.Get("category_id")),
		URL:        p.Get("url"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_ = rec.IsFeatured.UnmarshalJSON([]byte(p.Get("isFeatured")))
	rec.Images = images
	rec = Normalize(rec, s.norm)

	raw, err := json.Marshal(rec)
	if err != nil {
		return Simulated{}, err
	}
	if s.fallback != nil {
		s.fallback.Append(s.kind.Plural(), raw)
	}

	s.invalidate(ctx, string(rec.ID))
	metrics.SimulatedWrites.WithLabelValues(s.kind.Plural()).Inc()

	ref := uuid.NewString()
	s.log.Warn().Err(cause).Str("id", string(rec.ID)).Str("local_ref", ref).Msg("api unavailable, create simulated; not persisted")
	return Simulated{Record: rec, Cause: cause, LocalRef: ref}, nil
}
