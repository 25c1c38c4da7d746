package cache

import (
	"fmt"
	"strings"
)

// Keys is the storage key table for one resource type. All keys a service
// writes come from here, so invalidation can reason about them by prefix.
//
//	all       all{Plural}                            allProducts
//	item      {singular}_{id}                        product_17
//	page      {plural}Pagination_page_{n}_limit_{m}  productsPagination_page_2_limit_8
//	category  {singular}_category_{id}               product_category_3
//	slug      {singular}_slug_{slug}                 product_slug_farm-tour
type Keys struct {
	singular string
	plural   string
}

// NewKeys builds the table for a type, e.g. NewKeys("product", "products").
func NewKeys(singular, plural string) Keys {
	return Keys{singular: singular, plural: plural}
}

// All is the key of the unfiltered listing.
func (k Keys) All() string {
	return "all" + capitalize(k.plural)
}

// Item is the key of a single record.
func (k Keys) Item(id string) string {
	return k.singular + "_" + id
}

// Page is the key of one page of the listing.
func (k Keys) Page(page, limit int) string {
	return fmt.Sprintf("%sPagination_page_%d_limit_%d", k.plural, page, limit)
}

// Category is the key of the listing filtered by category.
func (k Keys) Category(categoryID string) string {
	return k.singular + "_category_" + categoryID
}

// Slug is the key of a record looked up by slug.
func (k Keys) Slug(slug string) string {
	return k.singular + "_slug_" + slug
}

// Prefixes returns every prefix under which this type stores data. Removing
// all of them drops the listing, every page, every filtered listing and every
// single record of the type.
func (k Keys) Prefixes() []string {
	return []string{
		k.All(),
		k.singular + "_",
		k.plural + "Pagination_",
	}
}

// Owns reports whether key belongs to this type.
func (k Keys) Owns(key string) bool {
	for _, p := range k.Prefixes() {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// String returns the plural name, handy in log fields.
func (k Keys) String() string {
	return k.plural
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
