// Package catalog serves the site's content records: products, services,
// experiences, news, images and videos. Every read goes cache first, then
// the API, then the static snapshot. Every write goes to the API and drops
// the type's cache afterwards.
package catalog

import (
	"fmt"
	"strings"

	"github.com/briangreenhill/farmstay/cache"
)

type Kind string

const (
	KindProduct    Kind = "product"
	KindService    Kind = "service"
	KindExperience Kind = "experience"
	KindNews       Kind = "news"
	KindImage      Kind = "image"
	KindVideo      Kind = "video"
)

// Kinds lists every resource type in display order.
var Kinds = []Kind{KindProduct, KindService, KindExperience, KindNews, KindImage, KindVideo}

var plurals = map[Kind]string{
	KindProduct:    "products",
	KindService:    "services",
	KindExperience: "experiences",
	KindNews:       "news",
	KindImage:      "images",
	KindVideo:      "videos",
}

// Plural is the collection name used by the API path and the snapshot.
func (k Kind) Plural() string {
	if p, ok := plurals[k]; ok {
		return p
	}
	return string(k) + "s"
}

// Path is the API collection path, e.g. /api/products.
func (k Kind) Path() string {
	return "/api/" + k.Plural()
}

// Keys is the cache key table of the kind.
func (k Kind) Keys() cache.Keys {
	return cache.NewKeys(string(k), k.Plural())
}

func (k Kind) Valid() bool {
	_, ok := plurals[k]
	return ok
}

// ParseKind accepts singular or plural names, case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if s == string(k) || s == k.Plural() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}
