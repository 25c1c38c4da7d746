// Package imageurl turns the image references stored on content records into
// absolute URLs the site can render.
//
// Records arrive with absolute URLs, root-relative paths, bare upload filenames,
// legacy /uploads/ paths, or nothing at all. Every function here is pure: no
// network, no storage, no panics. Bad input degrades to the placeholder.
package imageurl

import (
	"strings"
)

const (
	// DefaultImage is the placeholder used when a record has no usable image.
	DefaultImage = "/images/placeholder.jpg"

	uploadsPath       = "/images/uploads/"
	legacyUploadsPath = "/uploads/"
)

// Normalizer resolves image references against a single API origin.
// The zero value produces root-relative URLs and the stock placeholder.
type Normalizer struct {
	Origin       string   // e.g. https://api.example.com
	Default      string   // placeholder path, DefaultImage when empty
	StaleOrigins []string // origins that must be rewritten to Origin by Rebase
}

// New returns a Normalizer for origin with the stock placeholder.
func New(origin string, stale ...string) Normalizer {
	return Normalizer{Origin: origin, Default: DefaultImage, StaleOrigins: stale}
}

// URL normalizes a single reference.
func (n Normalizer) URL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return n.placeholder()
	}
	if isAbsolute(s) {
		return raw
	}
	if strings.HasPrefix(s, "//") {
		return n.scheme() + ":" + s
	}

	p := s
	if !strings.HasPrefix(p, "/") {
		switch {
		case strings.HasPrefix(p, "images/"), strings.HasPrefix(p, "uploads/"):
			p = "/" + p
		default:
			p = uploadsPath + p
		}
	}
	if strings.HasPrefix(p, legacyUploadsPath) {
		p = uploadsPath + strings.TrimPrefix(p, legacyUploadsPath)
	}
	return n.origin() + p
}

// Array normalizes any images value into a list of URLs. Empty, whitespace and
// non-string entries are dropped. The result is never nil.
func (n Normalizer) Array(v any) []string {
	raw := flatten(v)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, n.URL(s))
	}
	return out
}

// First returns the first usable image of v, or the placeholder.
func (n Normalizer) First(v any) string {
	if imgs := n.Array(v); len(imgs) > 0 {
		return imgs[0]
	}
	return n.placeholder()
}

// Value normalizes an untyped scalar. Arrays collapse to their first entry and
// unknown shapes to the placeholder.
func (n Normalizer) Value(v any) string {
	switch t := v.(type) {
	case string:
		return n.URL(t)
	case *string:
		if t == nil {
			return n.placeholder()
		}
		return n.URL(*t)
	default:
		return n.First(v)
	}
}

// Clean normalizes v and rebases every result off stale origins. This is the
// single step applied to records at the service boundary.
func (n Normalizer) Clean(v any) List {
	imgs := n.Array(v)
	for i, u := range imgs {
		imgs[i] = n.Rebase(u)
	}
	return List(imgs)
}

// Rebase rewrites an absolute URL on one of StaleOrigins onto Origin.
// Anything else is returned as is.
func (n Normalizer) Rebase(u string) string {
	if n.Origin == "" || !isAbsolute(u) {
		return u
	}
	lower := strings.ToLower(u)
	for _, stale := range n.StaleOrigins {
		s := strings.ToLower(strings.TrimRight(strings.TrimSpace(stale), "/"))
		if s == "" || !strings.HasPrefix(lower, s) {
			continue
		}
		rest := u[len(s):]
		if rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#' {
			return n.origin() + rest
		}
	}
	return u
}

// Placeholder is the path used for missing images.
func (n Normalizer) Placeholder() string {
	return n.placeholder()
}

func (n Normalizer) placeholder() string {
	if n.Default == "" {
		return DefaultImage
	}
	return n.Default
}

func (n Normalizer) origin() string {
	return strings.TrimRight(strings.TrimSpace(n.Origin), "/")
}

func (n Normalizer) scheme() string {
	if strings.HasPrefix(strings.ToLower(n.Origin), "http://") {
		return "http"
	}
	return "https"
}

func isAbsolute(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") ||
		strings.HasPrefix(l, "https://") ||
		strings.HasPrefix(l, "data:") ||
		strings.HasPrefix(l, "blob:")
}

// flatten pulls every string out of the shapes an images field takes.
func flatten(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case *string:
		if t == nil {
			return nil
		}
		return []string{*t}
	case List:
		return t
	case []string:
		return t
	case []*string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s != nil {
				out = append(out, *s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
