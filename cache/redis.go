package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const (
	connectionTimeout = 5 * time.Second
	scanBatch         = 200
)

// RedisStore shares entries between processes, so the worker's periodic
// refresh and the gateway see the same data.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client. namespace is prepended to every key.
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: namespace}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Read implements Reader.
func (r *RedisStore) Read(ctx context.Context, key string) (*Entry, bool) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeEntry(b)
}

// Write implements Writer.
func (r *RedisStore) Write(ctx context.Context, key string, entry *Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.prefix+key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove implements Remover.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// RemoveByPrefix implements Remover with SCAN, never KEYS.
func (r *RedisStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	iter := r.rdb.Scan(ctx, 0, escapeGlob(r.prefix+prefix)+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del prefix %s: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan prefix %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del prefix %s: %w", prefix, err)
		}
	}
	return nil
}

// Clear implements Remover. Only keys under the store's namespace go.
func (r *RedisStore) Clear(ctx context.Context) error {
	return r.RemoveByPrefix(ctx, "")
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
