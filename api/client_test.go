package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/products", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Header().Set("ETag", `"v1"`)
		_, _ = io.WriteString(w, `{"data":[{"id":1}]}`)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	resp, err := c.Get(context.Background(), "/api/products", map[string]string{"page": "2"}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(resp.Data))
	assert.Equal(t, `"v1"`, resp.ETag)

	var out []map[string]int
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 1, out[0]["id"])
}

func TestGet_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	resp, err := New(WithBaseURL(srv.URL)).Get(context.Background(), "/api/news", nil, `"v1"`)
	require.NoError(t, err)
	assert.True(t, resp.NotModified)
	assert.ErrorIs(t, resp.Decode(&struct{}{}), ErrNoData)
}

func TestGet_ShapeErrors(t *testing.T) {
	for name, body := range map[string]string{
		"no data":  `{"items":[]}`,
		"null":     `{"data":null}`,
		"not json": `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer srv.Close()

			_, err := New(WithBaseURL(srv.URL)).Get(context.Background(), "/api/news", nil, "")
			var se *ShapeError
			require.ErrorAs(t, err, &se)
			assert.True(t, IsUnavailable(err))
		})
	}
}

func TestGet_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"product not found"}`)
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL)).Get(context.Background(), "/api/products/9", nil, "")
	var he *HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusNotFound, he.StatusCode)
	assert.Equal(t, "product not found", he.Message)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnavailable(err))
}

func TestGet_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(WithBaseURL(url)).Get(context.Background(), "/api/products", nil, "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, IsUnavailable(err))
}

func TestWithTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	_, err := New(WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond)).Get(context.Background(), "/api/news", nil, "")
	assert.True(t, IsUnavailable(err))
}

func TestCancelledIsNotUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Get(ctx, "/api/news", nil, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsUnavailable(err))
}

func TestPost_Multipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}

		assert.Equal(t, "Farm tour", r.FormValue("name"))
		assert.Equal(t, []string{"/images/uploads/old.jpg"}, r.MultipartForm.Value[ImagesField])
		files := r.MultipartForm.File[ImagesField]
		if assert.Len(t, files, 1) {
			assert.Equal(t, "new.jpg", files[0].Filename)
		}

		_, _ = io.WriteString(w, `{"data":{"id":7,"name":"Farm tour"}}`)
	}))
	defer srv.Close()

	p := NewPayload().Set("name", "Farm tour").AddImage("/images/uploads/old.jpg").
		AddUpload(Upload{Filename: "new.jpg", ContentType: "image/jpeg", Body: strings.NewReader("jpeg")})

	resp, err := New(WithBaseURL(srv.URL), WithToken("s3cret")).Post(context.Background(), "/api/experiences", p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"name":"Farm tour"}`, string(resp.Data))
}

func TestDelete(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/api/news/404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	require.NoError(t, c.Delete(context.Background(), "/api/news/3"))
	assert.True(t, IsNotFound(c.Delete(context.Background(), "/api/news/404")))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithBaseURL_IgnoresGarbage(t *testing.T) {
	c := New(WithBaseURL("::not a url"))
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestGet_EscapesPathOnce(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()
	ctx := context.Background()

	c := New(WithBaseURL(srv.URL))
	_, err := c.Get(ctx, "/api/products/slug/"+url.PathEscape("cà-phê sữa"), nil, "")
	require.NoError(t, err)
	_, err = c.Get(ctx, "/api/products/"+url.PathEscape("a/b"), nil, "")
	require.NoError(t, err)

	prefixed := New(WithBaseURL(srv.URL + "/v2/"))
	_, err = prefixed.Get(ctx, "/api/news", nil, "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/api/products/slug/c%C3%A0-ph%C3%AA%20s%E1%BB%AFa",
		"/api/products/a%2Fb",
		"/v2/api/news",
	}, got)
}
