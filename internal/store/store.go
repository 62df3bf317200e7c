// Package store implements the key-value cache protocol the aggregator reads
// raw records from and writes dimension aggregates to.
package store

import (
	"context"
	"strconv"
)

// Store is a string key-value store. Get and MGet report missing keys as "".
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Set(ctx context.Context, key, val string) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// RawKey returns the key of a raw record, e.g. "product_property_42".
func RawKey(prefix string, id int64) string {
	return prefix + "_" + strconv.FormatInt(id, 10)
}

// DimKey returns the key of a dimension aggregate, e.g. "dim_product_42".
func DimKey(prefix string, id int64) string {
	return "dim_" + RawKey(prefix, id)
}
