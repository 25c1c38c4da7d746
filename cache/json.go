package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// GetJSON reads key and decodes its body into a T. A body that no longer
// decodes into T counts as a miss.
func GetJSON[T any](ctx context.Context, r Reader, key string) (T, bool) {
	var zero T
	e, ok := r.Read(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(e.Body, &v); err != nil {
		return zero, false
	}
	return v, true
}

// PutJSON encodes v and writes it under key.
func PutJSON(ctx context.Context, w Writer, key string, v any) error {
	return PutJSONWithETag(ctx, w, key, v, "")
}

// PutJSONWithETag is PutJSON keeping the upstream ETag for revalidation.
func PutJSONWithETag(ctx context.Context, w Writer, key string, v any, etag string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return w.Write(ctx, key, &Entry{ETag: etag, FetchedAt: time.Now(), Body: b})
}
