package catalog

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/briangreenhill/farmstay/imageurl"
)

// ID is a record identifier. The API sends numbers, older snapshot data
// sometimes strings; both decode here.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Int(); ok && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric value of the id.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id ID) String() string { return string(id) }

// Flag is a boolean that also accepts 0/1 and "true"/"1" from form-encoded
// backends.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "on", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Record is a product, service, experience, news item, image or video. Which
// display fields are set depends on the type.
type Record struct {
	ID         ID            `json:"id"`
	Name       string        `json:"name,omitempty"`
	Title      string        `json:"title,omitempty"`
	Slug       string        `json:"slug,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Content    string        `json:"content,omitempty"`
	ChildNavID ID            `json:"child_nav_id,omitempty"`
	CategoryID ID            `json:"category_id,omitempty"`
	IsFeatured Flag          `json:"isFeatured"`
	Images     imageurl.List `json:"images"`
	URL        string        `json:"url,omitempty"`
	CreatedAt  string        `json:"created_at,omitempty"`
	UpdatedAt  string        `json:"updated_at,omitempty"`
}

// DisplayName is Name, or Title for types that use titles.
func (r Record) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Title
}

// Normalize returns r with its images resolved to absolute URLs and any
// absolute URL moved off a stale origin. It is applied once per fetch.
func Normalize(r Record, n imageurl.Normalizer) Record {
	r.Images = n.Clean(r.Images)
	if strings.TrimSpace(r.URL) != "" {
		r.URL = n.Rebase(n.URL(r.URL))
	}
	return r
}

func normalizeAll(recs []Record, n imageurl.Normalizer) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, Normalize(r, n))
	}
	return out
}

// decodeRecords decodes raw records one by one, skipping those that do not
// decode. Snapshot data is hand-edited and one bad entry should not hide the rest.
func decodeRecords(raw []json.RawMessage) []Record {
	out := make([]Record, 0, len(raw))
	for _, b := range raw {
		var r Record
		if json.Unmarshal(b, &r) == nil {
			out = append(out, r)
		}
	}
	return out
}

func maxID(recs []Record) int64 {
	var max int64
	for _, r := range recs {
		if n, ok := r.ID.Int(); ok && n > max {
			max = n
		}
	}
	return max
}
