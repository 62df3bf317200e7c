package store

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "product_property_42", RawKey("product_property", 42))
	assert.Equal(t, "dim_product_intro_7", DimKey("product_intro", 7))
	assert.Equal(t, "dim_brand_-1", DimKey("brand", -1))
}

func TestMemStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemStore()

	v, err := s.Get(ctx, "brand_1")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(s.Set(ctx, "brand_1", `{"name":"acme"}`))
	v, err = s.Get(ctx, "brand_1")
	assert.NoError(err)
	assert.Equal(`{"name":"acme"}`, v)

	vals, err := s.MGet(ctx, "brand_1", "brand_2")
	assert.NoError(err)
	assert.Equal([]string{`{"name":"acme"}`, ""}, vals)

	assert.NoError(s.Del(ctx, "brand_1"))
	assert.NoError(s.Del(ctx, "brand_1"))
	assert.False(s.Exists("brand_1"))
}

func TestMemStoreConcurrentSets(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Set(ctx, RawKey("category", int64(i)), strconv.Itoa(i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, s.Len())
}

func TestRedisStore(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(err)
	defer s.Close()

	v, err := s.Get(ctx, "product_1")
	require.NoError(err)
	assert.Equal("", v)

	require.NoError(mr.Set("product_1", `{"name":"Widget"}`))
	require.NoError(mr.Set("product_spec_1", ""))

	v, err = s.Get(ctx, "product_1")
	require.NoError(err)
	assert.Equal(`{"name":"Widget"}`, v)

	vals, err := s.MGet(ctx, "product_1", "product_property_1", "product_spec_1")
	require.NoError(err)
	assert.Equal([]string{`{"name":"Widget"}`, "", ""}, vals)

	require.NoError(s.Set(ctx, "dim_product_1", `{"a":1}`))
	got, err := mr.Get("dim_product_1")
	require.NoError(err)
	assert.Equal(`{"a":1}`, got)

	require.NoError(s.Del(ctx, "dim_product_1"))
	require.NoError(s.Del(ctx, "dim_product_1"))
	assert.False(mr.Exists("dim_product_1"))
	assert.NoError(s.Ping(ctx))
}

func TestRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(NewMemStore())
	_, _ = r.Get(ctx, "a")
	_, _ = r.MGet(ctx, "a", "b")
	_ = r.Set(ctx, "c", "1")
	_ = r.Del(ctx, "c")
	ops := r.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, "get a", ops[0].String())
	assert.Equal(t, "mget a,b", ops[1].String())
	assert.Equal(t, "set c", ops[2].String())
	assert.Equal(t, "del c", ops[3].String())
	r.Reset()
	assert.Empty(t, r.Ops())
}
