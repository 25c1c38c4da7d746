// Package snapshot reads the static JSON mirror of the content API that
// services fall back to when the API cannot be reached.
package snapshot

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
)

// Collections are the top-level keys of the document, in write order.
var Collections = []string{"products", "services", "experiences", "news", "images", "videos"}

// Snapshot is one point-in-time copy of every collection. Records stay raw;
// callers decode them into their own types.
type Snapshot struct {
	collections map[string][]json.RawMessage
}

// New returns an empty snapshot with every collection present.
func New() *Snapshot {
	s := &Snapshot{collections: make(map[string][]json.RawMessage, len(Collections))}
	for _, c := range Collections {
		s.collections[c] = []json.RawMessage{}
	}
	return s
}

// Collection returns the records stored under name. Unknown names and
// collections the document did not carry come back empty, not nil.
func (s *Snapshot) Collection(name string) []json.RawMessage {
	if s == nil {
		return []json.RawMessage{}
	}
	if recs, ok := s.collections[name]; ok && recs != nil {
		return recs
	}
	return []json.RawMessage{}
}

// Set replaces a collection.
func (s *Snapshot) Set(name string, recs []json.RawMessage) {
	if s.collections == nil {
		s.collections = make(map[string][]json.RawMessage)
	}
	if recs == nil {
		recs = []json.RawMessage{}
	}
	s.collections[name] = recs
}

// UnmarshalJSON accepts partial documents. A missing key, a null, or a
// value that is not an array all decode to an empty collection.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	*s = *New()
	for name, raw := range top {
		var recs []json.RawMessage
		if err := json.Unmarshal(raw, &recs); err != nil {
			continue
		}
		s.Set(name, recs)
	}
	return nil
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string][]json.RawMessage, len(Collections))
	for _, c := range Collections {
		out[c] = s.Collection(c)
	}
	for name, recs := range s.collections {
		if _, ok := out[name]; !ok {
			out[name] = recs
		}
	}
	return json.Marshal(out)
}

// Parse decodes a snapshot document.
func Parse(b []byte) (*Snapshot, error) {
	s := New()
	if err := json.Unmarshal(b, s); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteFile writes s as indented JSON, atomically.
func WriteFile(path string, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RecordID pulls the numeric id out of a raw record. Ids may be JSON numbers
// or numeric strings; anything else reports false.
func RecordID(rec json.RawMessage) (int64, bool) {
	var r struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(rec, &r) != nil || len(r.ID) == 0 {
		return 0, false
	}

	var n json.Number
	if json.Unmarshal(r.ID, &n) == nil {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	var s string
	if json.Unmarshal(r.ID, &s) == nil {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// MaxID returns the highest numeric id in recs, or 0.
func MaxID(recs []json.RawMessage) int64 {
	var max int64
	for _, r := range recs {
		if id, ok := RecordID(r); ok && id > max {
			max = id
		}
	}
	return max
}
