package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name    string
	store   Store
	ctx     context.Context
	corrupt func(key string)
}

func backends(t *testing.T) []backend {
	t.Helper()
	bg := context.Background()

	mem := NewMemoryStore()

	lru := NewLRUStore(64, time.Minute)

	dir := t.TempDir()
	fc, err := NewFileCacheAt(dir)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	rs := NewRedisStore(rdb, "farmstay:")

	sm := scs.New()
	sctx, err := sm.Load(bg, "")
	require.NoError(t, err)
	ss := NewSessionStore(sm)

	return []backend{
		{"memory", mem, bg, func(k string) { mem.SetRaw(k, []byte("{not json")) }},
		{"lru", lru, bg, func(k string) { lru.lru.Add(k, []byte("<html>")) }},
		{"file", fc, bg, func(k string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, filePrefix+k+".json"), []byte("garbage"), 0o600))
		}},
		{"redis", rs, bg, func(k string) { require.NoError(t, mr.Set("farmstay:"+k, "garbage")) }},
		{"session", ss, sctx, func(k string) { sm.Put(sctx, sessionNamespace+k, []byte("][")) }},
	}
}

type sample struct {
	ID     int               `json:"id"`
	Name   string            `json:"name"`
	Images []string          `json:"images"`
	Attrs  map[string]string `json:"attrs"`
}

func TestStores_RoundTrip(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			want := []sample{
				{ID: 1, Name: "Honey", Images: []string{"https://x.test/a.jpg"}, Attrs: map[string]string{"k": "v"}},
				{ID: 2, Name: "Eggs", Images: []string{}},
			}
			require.NoError(t, PutJSON(b.ctx, b.store, "allProducts", want))

			got, ok := GetJSON[[]sample](b.ctx, b.store, "allProducts")
			require.True(t, ok)
			assert.Equal(t, want, got)

			e, ok := b.store.Read(b.ctx, "allProducts")
			require.True(t, ok)
			assert.False(t, e.FetchedAt.IsZero())
		})
	}
}

func TestStores_MissAndCorruption(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, ok := b.store.Read(b.ctx, "product_404")
			assert.False(t, ok)

			b.corrupt("product_1")
			assert.NotPanics(t, func() {
				_, ok = b.store.Read(b.ctx, "product_1")
			})
			assert.False(t, ok, "corrupt value must read as a miss")

			// a body that decodes but not into the requested type is a miss too
			require.NoError(t, PutJSON(b.ctx, b.store, "product_2", "just a string"))
			_, ok = GetJSON[sample](b.ctx, b.store, "product_2")
			assert.False(t, ok)
		})
	}
}

func TestStores_RemoveByPrefixAndClear(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			keys := []string{"allProducts", "product_1", "product_category_2", "productsPagination_page_1_limit_8", "allServices", "service_1"}
			for _, k := range keys {
				require.NoError(t, PutJSON(b.ctx, b.store, k, k))
			}

			require.NoError(t, b.store.Remove(b.ctx, "product_1"))
			require.NoError(t, b.store.Remove(b.ctx, "never-written"))
			_, ok := b.store.Read(b.ctx, "product_1")
			assert.False(t, ok)

			require.NoError(t, b.store.RemoveByPrefix(b.ctx, "product_"))
			_, ok = b.store.Read(b.ctx, "product_category_2")
			assert.False(t, ok)
			_, ok = b.store.Read(b.ctx, "productsPagination_page_1_limit_8")
			assert.True(t, ok, "plural pagination keys do not share the singular prefix")
			_, ok = b.store.Read(b.ctx, "service_1")
			assert.True(t, ok)

			require.NoError(t, b.store.Clear(b.ctx))
			for _, k := range keys {
				_, ok := b.store.Read(b.ctx, k)
				assert.False(t, ok, k)
			}
		})
	}
}

func TestSessionStore_ClearKeepsOtherSessionData(t *testing.T) {
	sm := scs.New()
	ctx, err := sm.Load(context.Background(), "")
	require.NoError(t, err)

	sm.Put(ctx, "admin_id", "42")
	ss := NewSessionStore(sm)
	require.NoError(t, PutJSON(ctx, ss, "allNews", []int{1}))
	require.NoError(t, ss.Clear(ctx))

	assert.Equal(t, "42", sm.GetString(ctx, "admin_id"))
	keys := sm.Keys(ctx)
	sort.Strings(keys)
	assert.Equal(t, []string{"admin_id"}, keys)
}

func TestFileCache_ClearKeepsForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fc, err := NewFileCacheAt(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "allProducts.json"), []byte(`{}`), 0o600))
	require.NoError(t, PutJSON(ctx, fc, "allProducts", []int{1}))
	require.NoError(t, PutJSON(ctx, fc, "product_1", 1))

	require.NoError(t, fc.Clear(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"settings.json", "allProducts.json"}, names)
}

func TestSessionStore_Scope(t *testing.T) {
	sm := scs.New()
	ctx, err := sm.Load(context.Background(), "")
	require.NoError(t, err)
	ss := NewSessionStore(sm)

	assert.Equal(t, SessionScope(sm.Token(ctx)), ScopeOf(ctx, ss))
	assert.Equal(t, ScopeOf(ctx, ss), ScopeOf(ctx, Instrument(ss, "session")))
	assert.Empty(t, ScopeOf(ctx, NewMemoryStore()))
	assert.Empty(t, ScopeOf(ctx, Instrument(NewMemoryStore(), "memory")))
}

func TestLRUStore_Expires(t *testing.T) {
	s := NewLRUStore(8, 30*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, PutJSON(ctx, s, "allVideos", []int{1}))

	_, ok := s.Read(ctx, "allVideos")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := s.Read(ctx, "allVideos")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestDialRedis(t *testing.T) {
	_, err := DialRedis("")
	assert.ErrorIs(t, err, ErrEmptyAddress)

	mr := miniredis.RunT(t)
	rdb, err := DialRedis(mr.Addr())
	require.NoError(t, err)
	_ = rdb.Close()
}

func TestInstrumented_PassesThrough(t *testing.T) {
	ctx := context.Background()
	s := Instrument(NewMemoryStore(), "test")
	require.NoError(t, PutJSON(ctx, s, "image_1", 1))

	v, ok := GetJSON[int](ctx, s, "image_1")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, s.RemoveByPrefix(ctx, "image_"))
	_, ok = s.Read(ctx, "image_1")
	assert.False(t, ok)
}
