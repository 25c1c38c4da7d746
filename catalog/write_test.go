package catalog

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/farmstay/api"
	"github.com/briangreenhill/farmstay/cache"
	"github.com/briangreenhill/farmstay/imageurl"
	"github.com/briangreenhill/farmstay/internal/events"
)

// seed fills store with one entry under every product key shape plus a
// record of another kind.
func seed(t *testing.T, store *cache.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, k := range []string{
		"allProducts", "product_5", "productsPagination_page_1_limit_8",
		"product_category_2", "product_slug_jam", "service_5", "allServices",
	} {
		require.NoError(t, cache.PutJSON(ctx, store, k, []int{1}))
	}
}

func productKeysGone(t *testing.T, store *cache.MemoryStore) {
	t.Helper()
	assert.ElementsMatch(t, []string{"service_5", "allServices"}, store.Keys())
}

func TestUpdate_InvalidatesAfterSuccess(t *testing.T) {
	f := newFakeAPI(t)
	f.handle("POST /api/products/5", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Jam", r.FormValue("name"))
		_, _ = io.WriteString(w, `{"data":{"id":5,"name":"Jam","images":["jam.jpg"]}}`)
	})
	store := cache.NewMemoryStore()
	seed(t, store)
	rec := &recorder{}

	got, err := newService(t, f, store, WithEvents(rec)).Update(context.Background(), "5", api.NewPayload().Set("name", "Jam"))
	require.NoError(t, err)
	assert.Equal(t, imageurl.List{origin + "/images/uploads/jam.jpg"}, got.Images)
	productKeysGone(t, store)
	assert.Equal(t, []events.Type{events.DataChanged}, rec.types())
}

func TestDelete_InvalidatesAfterSuccess(t *testing.T) {
	f := newFakeAPI(t)
	f.json("DELETE /api/products/5", http.StatusNoContent, "")
	store := cache.NewMemoryStore()
	seed(t, store)

	require.NoError(t, newService(t, f, store).Delete(context.Background(), "5"))
	productKeysGone(t, store)
}

func TestCreate_Persisted(t *testing.T) {
	f := newFakeAPI(t)
	f.json("POST /api/products", 201, `{"data":{"id":31,"name":"Eggs"}}`)
	store := cache.NewMemoryStore()
	seed(t, store)

	res, err := newService(t, f, store).Create(context.Background(), api.NewPayload().Set("name", "Eggs"))
	require.NoError(t, err)
	p, ok := res.(Persisted)
	require.True(t, ok)
	assert.Equal(t, ID("31"), p.Record.ID)
	assert.Equal(t, "Eggs", RecordOf(res).Name)
	productKeysGone(t, store)
}

func TestMutation_FailureLeavesCache(t *testing.T) {
	f := newFakeAPI(t)
	f.json("POST /api/products/5", 422, `{"message":"name required"}`)
	f.json("POST /api/products", 400, `{"message":"bad form"}`)
	f.json("DELETE /api/products/5", 403, `{}`)
	store := cache.NewMemoryStore()
	seed(t, store)
	svc := newService(t, f, store)
	ctx := context.Background()

	_, err := svc.Update(ctx, "5", api.NewPayload())
	var he *api.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "name required", he.Message)

	res, err := svc.Create(ctx, api.NewPayload())
	assert.Nil(t, res)
	require.ErrorAs(t, err, &he)
	assert.Equal(t, 400, he.StatusCode)

	assert.Error(t, svc.Delete(ctx, "5"))
	assert.Len(t, store.Keys(), 7)
}

func TestCreate_SimulatedOnNetworkError(t *testing.T) {
	f := newFakeAPI(t)
	f.json("GET /api/products", 200, `{"data":[{"id":1},{"id":7},{"id":"3"}]}`)
	f.hangUp("POST /api/products")
	snap := staticSnapshot(`{"products":[{"id":2}]}`)
	store := cache.NewMemoryStore()
	svc := newService(t, f, store, WithSnapshot(snap))
	ctx := context.Background()

	_, err := svc.List(ctx)
	require.NoError(t, err)

	payload := api.NewPayload().Set("name", "Goat cheese").Set("isFeatured", "1").
		AddImage("/uploads/old.jpg").
		AddUpload(api.Upload{Filename: "new.jpg", Body: strings.NewReader("x")})
	res, err := svc.Create(ctx, payload)
	require.NoError(t, err)

	sim, ok := res.(Simulated)
	require.True(t, ok, "expected a simulated result, got %T", res)
	assert.Equal(t, ID("8"), sim.Record.ID)
	assert.Equal(t, "Goat cheese", sim.Record.Name)
	assert.True(t, bool(sim.Record.IsFeatured))
	assert.Equal(t, imageurl.List{
		origin + "/images/uploads/old.jpg",
		origin + imageurl.DefaultImage,
	}, sim.Record.Images)
	assert.Error(t, sim.Cause)
	assert.NotEmpty(t, sim.LocalRef)
	assert.Empty(t, store.Keys(), "simulated create drops the listing cache")

	res, err = svc.Create(ctx, api.NewPayload().Set("name", "Butter"))
	require.NoError(t, err)
	assert.Equal(t, ID("9"), RecordOf(res).ID)

	recs, err := snap.Records(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestCreate_SimulatedIDsClearACachedListing(t *testing.T) {
	f := newFakeAPI(t)
	f.json("GET /api/products", 200, `{"data":[{"id":1},{"id":50}]}`)
	f.hangUp("POST /api/products")
	store := cache.NewMemoryStore()
	ctx := context.Background()

	warm := newService(t, f, store)
	_, err := warm.List(ctx)
	require.NoError(t, err)

	svc := newService(t, f, store, WithSnapshot(staticSnapshot(`{"products":[{"id":2}]}`)))
	l, err := svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, FromCache, l.Source)
	assert.Equal(t, 1, f.count("GET /api/products"))

	res, err := svc.Create(ctx, api.NewPayload().Set("name", "Plum jam"))
	require.NoError(t, err)
	_, ok := res.(Simulated)
	require.True(t, ok)
	assert.Equal(t, ID("51"), RecordOf(res).ID)
}

func TestCreate_SimulatedIDsClearTheSnapshot(t *testing.T) {
	f := newFakeAPI(t)
	f.json("POST /api/products", 502, `{"error":"bad gateway"}`)
	svc := newService(t, f, nil, WithSnapshot(staticSnapshot(`{"products":[{"id":40}]}`)))

	res, err := svc.Create(context.Background(), api.NewPayload())
	require.NoError(t, err)
	_, ok := res.(Simulated)
	require.True(t, ok)
	assert.Equal(t, ID("41"), RecordOf(res).ID)
}

func TestCreate_SimulatedRecordIsReadableFromFallback(t *testing.T) {
	f := newFakeAPI(t)
	f.hangUp("POST /api/products")
	f.hangUp("GET /api/products")
	f.hangUp("GET /api/products/1")
	svc := newService(t, f, nil, WithSnapshot(staticSnapshot(`{}`)))
	ctx := context.Background()

	res, err := svc.Create(ctx, api.NewPayload().Set("name", "Cider"))
	require.NoError(t, err)
	assert.Equal(t, ID("1"), RecordOf(res).ID)

	l, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, FromFallback, l.Source)
	require.Len(t, l.Records, 1)
	assert.Equal(t, "Cider", l.Records[0].Name)

	rec, err := svc.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Cider", rec.Name)
}

func TestCreate_CancelledIsNotSimulated(t *testing.T) {
	f := newFakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.handle("POST /api/products", func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	snap := staticSnapshot(`{}`)
	svc := newService(t, f, nil, WithSnapshot(snap))

	res, err := svc.Create(ctx, api.NewPayload())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), snap.MaxID(context.Background(), "products"))
}

func TestSimulatable(t *testing.T) {
	assert.True(t, simulatable(&api.TransportError{Err: io.EOF}))
	assert.True(t, simulatable(&api.HTTPError{StatusCode: 500}))
	assert.False(t, simulatable(&api.HTTPError{StatusCode: 429}))
	assert.False(t, simulatable(&api.ShapeError{}))
	assert.False(t, simulatable(&api.TransportError{Err: context.Canceled}))
}
