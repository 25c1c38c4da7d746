package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/catalog"
	"github.com/briangreenhill/farmstay/internal/jobs"
)

const maxFormMemory = 32 << 20

func (s *Server) service(w http.ResponseWriter, r *http.Request) (*catalog.Service, bool) {
	k, err := catalog.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error(), nil)
		return nil, false
	}
	svc, ok := s.Catalog.Service(k)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("no service for %s", k), nil)
		return nil, false
	}
	return svc, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var opts []catalog.ListOption
	if force, _ := strconv.ParseBool(q.Get("force")); force {
		opts = append(opts, catalog.Force())
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		page, _ := strconv.Atoi(q.Get("page"))
		opts = append(opts, catalog.Page(page, limit))
	}
	if c := q.Get("category"); c != "" {
		opts = append(opts, catalog.Category(c))
	}

	l, err := svc.List(r.Context(), opts...)
	if err != nil {
		// the client went away
		return
	}

	body := map[string]any{"data": l.Records, "source": l.Source}
	if l.Warning != nil {
		body["warning"] = l.Warning.Error()
		hlog.FromRequest(r).Warn().Err(l.Warning).Str("kind", string(svc.Kind())).Str("source", string(l.Source)).Msg("degraded listing")
	}
	w.Header().Set("X-Data-Source", string(l.Source))
	s.writeJSON(w, r, http.StatusOK, body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	rec, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
	s.writeRecord(w, r, rec, err)
}

func (s *Server) handleGetBySlug(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	rec, err := svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	s.writeRecord(w, r, rec, err)
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, rec catalog.Record, err error) {
	if err == nil {
		s.writeJSON(w, r, http.StatusOK, map[string]any{"data": rec})
		return
	}
	var nf *catalog.NotFoundError
	if errors.As(err, &nf) {
		s.writeError(w, r, http.StatusNotFound, err.Error(), map[string]any{"id": nf.ID})
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg("read record")
	s.writeError(w, r, upstreamStatus(err), err.Error(), nil)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	p, form, done, err := payloadFrom(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	defer done()

	res, err := svc.Create(r.Context(), p)
	if err != nil {
		s.writeMutationError(w, r, err, form)
		return
	}

	switch v := res.(type) {
	case catalog.Persisted:
		s.writeJSON(w, r, http.StatusCreated, map[string]any{"data": v.Record})
	case catalog.Simulated:
		s.writeJSON(w, r, http.StatusAccepted, map[string]any{
			"data":      v.Record,
			"simulated": true,
			"local_ref": v.LocalRef,
			"warning":   "saved locally only, the API could not be reached: " + v.Cause.Error(),
		})
	}
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	p, form, done, err := payloadFrom(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error(), nil)
		return
	}
	defer done()

	rec, err := svc.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeMutationError(w, r, err, form)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"data": rec})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeMutationError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeMutationError echoes the submitted form back so the caller can keep
// what the user typed.
func (s *Server) writeMutationError(w http.ResponseWriter, r *http.Request, err error, form map[string][]string) {
	hlog.FromRequest(r).Warn().Err(err).Msg("mutation failed")
	extra := map[string]any{}
	if form != nil {
		extra["form"] = form
	}
	s.writeError(w, r, upstreamStatus(err), err.Error(), extra)
}

// handleRefresh clears the caller's cache and re-warms it. With ?shared=1 it
// also queues a refresh of the shared cache for the worker.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	got, err := s.Catalog.RefreshAll(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("refresh")
		s.writeError(w, r, http.StatusInternalServerError, "could not refresh cache", nil)
		return
	}

	sources := make(map[string]catalog.Source, len(got))
	for k, l := range got {
		sources[k.Plural()] = l.Source
	}
	body := map[string]any{"sources": sources}

	if wantsSharedRefresh(r) {
		if s.Enqueuer == nil {
			s.writeError(w, r, http.StatusServiceUnavailable, "shared refresh is not configured", nil)
			return
		}
		task, err := jobs.NewRefreshCacheTask(jobs.RefreshCachePayload{Kind: r.URL.Query().Get("kind"), Reason: "gateway"})
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		info, err := s.Enqueuer.EnqueueContext(r.Context(), task)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("[asynq] enqueue failed")
			s.writeError(w, r, http.StatusBadGateway, "could not queue shared refresh", nil)
			return
		}
		hlog.FromRequest(r).Info().Str("task_id", info.ID).Str("queue", info.Queue).Msg("[asynq] enqueued refresh")
		body["task_id"] = info.ID
	}

	s.writeJSON(w, r, http.StatusOK, body)
}

// payloadFrom turns a multipart request into an API payload. images[] string
// parts are kept paths, file parts are uploads. done closes the uploads and
// must be called once the payload has been sent.
func payloadFrom(r *http.Request) (p *api.Payload, form map[string][]string, done func(), err error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, nil, nil, fmt.Errorf("parse form: %w", err)
	}
	if r.MultipartForm == nil {
		if err := r.ParseForm(); err != nil {
			return nil, nil, nil, fmt.Errorf("parse form: %w", err)
		}
	}

	p = api.NewPayload()
	for k, vs := range r.Form {
		if k == api.ImagesField {
			for _, v := range vs {
				p.AddImage(v)
			}
			continue
		}
		if len(vs) > 0 {
			p.Set(k, vs[0])
		}
	}

	var files []io.Closer
	done = func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File[api.ImagesField] {
			f, err := fh.Open()
			if err != nil {
				done()
				return nil, nil, nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
			}
			files = append(files, f)
			p.AddUpload(api.Upload{Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f})
		}
	}
	return p, r.Form, done, nil
}

// upstreamStatus maps an error from the API to the gateway's status. Client
// errors pass through; everything else is a bad gateway.
func upstreamStatus(err error) int {
	var he *api.HTTPError
	if errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500 {
		return he.StatusCode
	}
	return http.StatusBadGateway
}
