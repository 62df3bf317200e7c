package dim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/dim-aggregator/internal/model"
	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

func newTestHandler(batched bool) (*Handler, *store.MemStore, *store.Recorder) {
	mem := store.NewMemStore()
	rec := store.NewRecorder(mem)
	return NewHandler(rec, DefaultRegistry(batched), 16), mem, rec
}

func notify(dimType string, id int64) []byte {
	return []byte(fmt.Sprintf(`{"dim_type":%q,"id":%d}`, dimType, id))
}

func TestCopyDimensions(t *testing.T) {
	for _, dimType := range []string{"brand", "category", "product_intro"} {
		t.Run(dimType, func(t *testing.T) {
			assert := assert.New(t)
			ctx := context.Background()
			h, mem, _ := newTestHandler(false)

			raw := `{"id":1, "name":"Acme <b>"}`
			require.NoError(t, mem.Set(ctx, dimType+"_1", raw))
			require.NoError(t, h.Handle(ctx, notify(dimType, 1)))

			got, _ := mem.Get(ctx, "dim_"+dimType+"_1")
			assert.Equal(raw, got)

			require.NoError(t, mem.Del(ctx, dimType+"_1"))
			require.NoError(t, h.Handle(ctx, notify(dimType, 1)))
			assert.False(mem.Exists("dim_" + dimType + "_1"))
		})
	}
}

func TestEmptyRawRecordDeletes(t *testing.T) {
	ctx := context.Background()
	h, mem, _ := newTestHandler(false)
	require.NoError(t, mem.Set(ctx, "dim_brand_5", `{"stale":true}`))
	require.NoError(t, mem.Set(ctx, "brand_5", ""))
	require.NoError(t, h.Handle(ctx, notify("brand", 5)))
	assert.False(t, mem.Exists("dim_brand_5"))
}

func TestProductAbsentDeletes(t *testing.T) {
	for _, batched := range []bool{false, true} {
		ctx := context.Background()
		h, mem, _ := newTestHandler(batched)
		require.NoError(t, mem.Set(ctx, "dim_product_9", `{"stale":true}`))
		require.NoError(t, mem.Set(ctx, "product_property_9", `{"color":"red"}`))
		require.NoError(t, h.Handle(ctx, notify("product", 9)))
		assert.False(t, mem.Exists("dim_product_9"), "batched=%v", batched)
	}
}

func TestProductComposite(t *testing.T) {
	for _, batched := range []bool{false, true} {
		t.Run(fmt.Sprintf("batched=%v", batched), func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			h, mem, _ := newTestHandler(batched)

			require.NoError(mem.Set(ctx, "product_42", `{"name":"Widget","price":12.50}`))
			require.NoError(mem.Set(ctx, "product_property_42", `{"color":"red"}`))
			require.NoError(mem.Set(ctx, "product_specification_42", `[{"k":"weight","v":"1kg"}]`))
			require.NoError(h.Handle(ctx, notify("product", 42)))

			got, _ := mem.Get(ctx, "dim_product_42")
			assert.JSONEq(t, `{
				"name":"Widget",
				"price":12.50,
				"product_property":{"color":"red"},
				"product_specification":[{"k":"weight","v":"1kg"}]
			}`, got)
		})
	}
}

func TestProductExampleScenario(t *testing.T) {
	ctx := context.Background()
	h, mem, _ := newTestHandler(false)
	require.NoError(t, mem.Set(ctx, "product_42", `{"name":"Widget"}`))
	require.NoError(t, mem.Set(ctx, "product_property_42", `{"color":"red"}`))

	require.NoError(t, h.Handle(ctx, []byte(`{"dim_type":"product","id":42}`)))

	got, _ := mem.Get(ctx, "dim_product_42")
	assert.Equal(t, `{"name":"Widget","product_property":{"color":"red"}}`, got)
}

func TestProductMissingSubRecordOmitsField(t *testing.T) {
	ctx := context.Background()
	h, mem, _ := newTestHandler(false)
	require.NoError(t, mem.Set(ctx, "product_3", `{"name":"Gadget"}`))
	require.NoError(t, mem.Set(ctx, "product_property_3", ""))
	require.NoError(t, mem.Set(ctx, "product_specification_3", `{"size":"L"}`))
	require.NoError(t, h.Handle(ctx, notify("product", 3)))

	got, _ := mem.Get(ctx, "dim_product_3")
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(got), &obj))
	_, hasProperty := obj["product_property"]
	assert.False(t, hasProperty)
	assert.JSONEq(t, `{"size":"L"}`, string(obj["product_specification"]))
}

func TestProductNullSubRecordOmitsField(t *testing.T) {
	for _, batched := range []bool{false, true} {
		ctx := context.Background()
		h, mem, _ := newTestHandler(batched)
		require.NoError(t, mem.Set(ctx, "product_4", `{"name":"W"}`))
		require.NoError(t, mem.Set(ctx, "product_property_4", "null"))
		require.NoError(t, mem.Set(ctx, "product_specification_4", "   "))
		require.NoError(t, h.Handle(ctx, notify("product", 4)))

		got, _ := mem.Get(ctx, "dim_product_4")
		assert.Equal(t, `{"name":"W"}`, got, "batched=%v", batched)
	}
}

func TestProductIdempotent(t *testing.T) {
	ctx := context.Background()
	h, mem, _ := newTestHandler(false)
	require.NoError(t, mem.Set(ctx, "product_8", `{"name":"Widget"}`))
	require.NoError(t, mem.Set(ctx, "product_property_8", `{"color":"red"}`))

	require.NoError(t, h.Handle(ctx, notify("product", 8)))
	first, _ := mem.Get(ctx, "dim_product_8")
	require.NoError(t, h.Handle(ctx, notify("product", 8)))
	second, _ := mem.Get(ctx, "dim_product_8")
	assert.Equal(t, first, second)
}

func TestUnknownDimTypeTouchesNothing(t *testing.T) {
	ctx := context.Background()
	h, _, rec := newTestHandler(false)
	require.NoError(t, h.Handle(ctx, []byte(`{"dim_type":"warehouse","id":1}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"dim_type":"Brand","id":"not-an-id"}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"id":1}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"dim_type":5,"id":1}`)))
	require.NoError(t, h.Handle(ctx, []byte(`{"dim_type":["brand"],"id":1}`)))
	assert.Empty(t, rec.Ops())
}

func TestMalformedInputsFail(t *testing.T) {
	ctx := context.Background()
	h, mem, rec := newTestHandler(false)

	assert.Error(t, h.Handle(ctx, []byte(`not json`)))

	err := h.Handle(ctx, []byte(`{"dim_type":"brand","id":"x1"}`))
	assert.ErrorIs(t, err, model.ErrMalformedID)
	err = h.Handle(ctx, []byte(`{"dim_type":"brand"}`))
	assert.ErrorIs(t, err, model.ErrMalformedID)
	assert.Empty(t, rec.Ops())

	require.NoError(t, mem.Set(ctx, "product_1", `[1,2]`))
	assert.ErrorIs(t, h.Handle(ctx, notify("product", 1)), ErrNotObject)

	require.NoError(t, mem.Set(ctx, "product_1", `{"name":"x"}`))
	require.NoError(t, mem.Set(ctx, "product_property_1", `{broken`))
	assert.Error(t, h.Handle(ctx, notify("product", 1)))
	assert.False(t, mem.Exists("dim_product_1"))
}

type failingStore struct {
	store.Store
}

var errDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (string, error) { return "", errDown }

func TestStoreErrorPropagates(t *testing.T) {
	h := NewHandler(failingStore{Store: store.NewMemStore()}, DefaultRegistry(false), 4)
	assert.ErrorIs(t, h.Handle(context.Background(), notify("category", 2)), errDown)
	assert.ErrorIs(t, h.Handle(context.Background(), notify("product", 2)), errDown)
}

func TestBatchedProductUsesSingleRead(t *testing.T) {
	ctx := context.Background()
	h, mem, rec := newTestHandler(true)
	require.NoError(t, mem.Set(ctx, "product_4", `{"name":"Widget"}`))
	require.NoError(t, h.Handle(ctx, notify("product", 4)))

	ops := rec.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, "mget product_4,product_property_4,product_specification_4", ops[0].String())
	assert.Equal(t, "set dim_product_4", ops[1].String())
}

func TestRegistryCustomDimension(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	reg := DefaultRegistry(false)
	reg.Register("shop", "shop", CopyAggregator{Prefix: "shop"})
	h := NewHandler(mem, reg, 4)

	require.NoError(t, mem.Set(ctx, "shop_1", `{"n":1}`))
	require.NoError(t, h.Handle(ctx, notify("shop", 1)))
	got, _ := mem.Get(ctx, "dim_shop_1")
	assert.Equal(t, `{"n":1}`, got)
	assert.Equal(t, []string{"brand", "category", "product", "product_intro", "shop"}, reg.Tags())

	prefix, ok := reg.Prefix("product_intro")
	assert.True(t, ok)
	assert.Equal(t, "product_intro", prefix)
}

func TestConcurrentNotificationsSameID(t *testing.T) {
	ctx := context.Background()
	h, mem, _ := newTestHandler(false)
	require.NoError(t, mem.Set(ctx, "product_7", `{"name":"Widget"}`))
	require.NoError(t, mem.Set(ctx, "product_property_7", `{"color":"red"}`))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Handle(ctx, notify("product", 7)))
		}()
	}
	wg.Wait()
	got, _ := mem.Get(ctx, "dim_product_7")
	assert.Equal(t, `{"name":"Widget","product_property":{"color":"red"}}`, got)
}
