package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUStore is a bounded in-memory store whose entries expire ttl after they
// were written. It is the store to use when a timer, rather than explicit
// invalidation alone, should bound how stale a listing can get.
type LRUStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUStore creates a store holding at most size entries for ttl each.
func NewLRUStore(size int, ttl time.Duration) *LRUStore {
	return &LRUStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Read implements Reader.
func (l *LRUStore) Read(_ context.Context, key string) (*Entry, bool) {
	b, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	return decodeEntry(b)
}

// Write implements Writer.
func (l *LRUStore) Write(_ context.Context, key string, entry *Entry) error {
	b, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	l.lru.Add(key, b)
	return nil
}

// Remove implements Remover.
func (l *LRUStore) Remove(_ context.Context, key string) error {
	l.lru.Remove(key)
	return nil
}

// RemoveByPrefix implements Remover.
func (l *LRUStore) RemoveByPrefix(_ context.Context, prefix string) error {
	for _, k := range l.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			l.lru.Remove(k)
		}
	}
	return nil
}

// Clear implements Remover.
func (l *LRUStore) Clear(_ context.Context) error {
	l.lru.Purge()
	return nil
}

// Len reports how many live entries the store holds.
func (l *LRUStore) Len() int {
	return l.lru.Len()
}
