package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/farmstay/internal/events"
)

type recorder struct{ got []events.Event }

func (r *recorder) Publish(e events.Event) { r.got = append(r.got, e) }

func TestInvalidate_DropsOnlyTheType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	products := NewKeys("product", "products")
	news := NewKeys("news", "news")

	for _, k := range []string{products.All(), products.Item("7"), products.Page(1, 8), products.Category("3"), products.Slug("jam"), news.All(), news.Item("7")} {
		require.NoError(t, PutJSON(ctx, store, k, 1))
	}

	rec := &recorder{}
	inv := NewInvalidator(store, rec, zerolog.Nop())
	require.NoError(t, inv.Invalidate(ctx, products, "7"))

	assert.ElementsMatch(t, []string{news.All(), news.Item("7")}, store.Keys())
	require.Len(t, rec.got, 1)
	assert.Equal(t, events.DataChanged, rec.got[0].Type)
	assert.Equal(t, "products", rec.got[0].Kind)
	assert.Equal(t, "7", rec.got[0].RecordID)
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, PutJSON(ctx, store, "allProducts", 1))
	require.NoError(t, PutJSON(ctx, store, "video_1", 1))

	rec := &recorder{}
	inv := NewInvalidator(store, rec, zerolog.Nop())
	require.NoError(t, inv.InvalidateAll(ctx))

	assert.Empty(t, store.Keys())
	require.Len(t, rec.got, 1)
	assert.Equal(t, events.DataRefreshed, rec.got[0].Type)
	assert.Empty(t, rec.got[0].Scope, "a shared store refresh concerns everyone")
}

type scopedStore struct{ *MemoryStore }

func (scopedStore) Scope(context.Context) string { return SessionScope("tok") }

func TestInvalidateAll_ScopedStoreScopesTheEvent(t *testing.T) {
	rec := &recorder{}
	inv := NewInvalidator(scopedStore{NewMemoryStore()}, rec, zerolog.Nop())
	require.NoError(t, inv.InvalidateAll(context.Background()))

	require.Len(t, rec.got, 1)
	assert.Equal(t, events.DataRefreshed, rec.got[0].Type)
	assert.Equal(t, "session:tok", rec.got[0].Scope)
	assert.False(t, rec.got[0].For(""))
	assert.False(t, rec.got[0].For(SessionScope("other")))
	assert.True(t, rec.got[0].For(SessionScope("tok")))
}

type failingStore struct{ *MemoryStore }

func (failingStore) RemoveByPrefix(context.Context, string) error { return errors.New("disk gone") }

func TestInvalidate_ReportsFailures(t *testing.T) {
	rec := &recorder{}
	inv := NewInvalidator(failingStore{NewMemoryStore()}, rec, zerolog.Nop())

	err := inv.Invalidate(context.Background(), NewKeys("image", "images"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Empty(t, rec.got, "no change event when invalidation did not complete")
}
