package imageurl

import (
	"bytes"
	"encoding/json"
	"strings"
)

// List is the images field of a record. It decodes every shape the API and
// the snapshot have been seen to produce: null, "", "a.jpg", ["a", "", null].
// It always encodes as a JSON array.
type List []string

// UnmarshalJSON accepts null, a string or an array of strings. Any other
// shape decodes to an empty list instead of failing the whole record.
func (l *List) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*l = List{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if strings.TrimSpace(s) != "" {
			*l = List{s}
		}
	case '[':
		var raw []any
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		out := make(List, 0, len(raw))
		for _, e := range raw {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		*l = out
	}
	return nil
}

// MarshalJSON never emits null.
func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}
