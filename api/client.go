// Package api talks to the content REST API: {data: ...} envelopes under
// /api/{collection}, multipart writes, bearer auth for admin calls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 15 * time.Second
)

type Client struct {
	http    *http.Client
	baseURL *url.URL
	token   string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithBaseURL sets the API origin. An unparsable value keeps the default.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			c.baseURL = u
		}
	}
}

// WithToken authenticates every request with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the single global request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: DefaultTimeout},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	if c.token != "" {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.http = &http.Client{
			Timeout:       c.http.Timeout,
			CheckRedirect: c.http.CheckRedirect,
			Jar:           c.http.Jar,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token, TokenType: "Bearer"}),
				Base:   base,
			},
		}
	}
	return c
}

// BaseURL returns the origin requests go to.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// HTTPClient exposes the underlying client, for loaders that fetch plain
// files from the same origin.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Response is a decoded envelope.
type Response struct {
	Data        json.RawMessage
	ETag        string
	NotModified bool
}

// url appends p to the base URL. p is an escaped path: callers escape each
// segment they build (url.PathEscape) and nothing is escaped again here.
func (c *Client) url(p string, q map[string]string) string {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(p, "/")
	if dec, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = dec, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	if len(q) > 0 {
		qq := u.Query()
		for k, v := range q {
			qq.Set(k, v)
		}
		u.RawQuery = qq.Encode()
	}
	return u.String()
}

// Get fetches p and returns the envelope's data. When etag is set the request
// is conditional and a 304 comes back as NotModified with no data.
func (c *Client) Get(ctx context.Context, p string, q map[string]string, etag string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(p, q), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	return c.do(req, p)
}

// Post sends payload as multipart/form-data to p.
func (c *Client) Post(ctx context.Context, p string, payload *Payload) (*Response, error) {
	if payload == nil {
		payload = NewPayload()
	}
	body, contentType, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", p, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(p, nil), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return c.do(req, p)
}

// Delete removes the resource at p. Any 2xx counts as success, with or
// without a body.
func (c *Client) Delete(ctx context.Context, p string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(p, nil), http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return parseHTTPError(req.Method, p, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// GetRaw fetches p without expecting an envelope; used for static files.
func (c *Client) GetRaw(ctx context.Context, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(p, nil), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, parseHTTPError(req.Method, p, resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request, p string) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Response{ETag: resp.Header.Get("ETag"), NotModified: true}, nil
	case resp.StatusCode >= 300:
		return nil, parseHTTPError(req.Method, p, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.String(), Err: err}
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ShapeError{Path: p, Reason: "body is not a JSON object: " + err.Error()}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &ShapeError{Path: p, Reason: `missing "data"`}
	}
	return &Response{Data: env.Data, ETag: resp.Header.Get("ETag")}, nil
}

// ErrNoData is returned by Decode for a NotModified response.
var ErrNoData = errors.New("response carries no data")

// Decode unmarshals the envelope's data into out.
func (r *Response) Decode(out any) error {
	if r.NotModified || len(r.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(r.Data, out)
}
