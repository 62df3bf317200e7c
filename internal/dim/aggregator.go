// Package dim re-materializes dimension aggregates from raw records.
//
// A change notification names a dimension type and an entity id. The
// aggregator registered for that type re-reads the raw records of the entity
// and either writes the aggregate at dim_<prefix>_<id> or deletes it when the
// primary raw record is absent or empty.
package dim

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

// Result reports what an aggregation did to the aggregate key.
type Result int

const (
	Written Result = iota + 1
	Deleted
)

func (r Result) String() string {
	switch r {
	case Written:
		return "written"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Aggregator rebuilds the aggregate of one dimension for one entity.
type Aggregator interface {
	Aggregate(ctx context.Context, st store.Store, id int64) (Result, error)
}

// CopyAggregator serves dimensions whose aggregate is the raw record itself.
type CopyAggregator struct {
	Prefix string
}

func (a CopyAggregator) Aggregate(ctx context.Context, st store.Store, id int64) (Result, error) {
	raw, err := st.Get(ctx, store.RawKey(a.Prefix, id))
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", store.RawKey(a.Prefix, id), err)
	}
	dimKey := store.DimKey(a.Prefix, id)
	if raw == "" {
		if err := st.Del(ctx, dimKey); err != nil {
			return 0, fmt.Errorf("del %s: %w", dimKey, err)
		}
		return Deleted, nil
	}
	if err := st.Set(ctx, dimKey, raw); err != nil {
		return 0, fmt.Errorf("set %s: %w", dimKey, err)
	}
	return Written, nil
}
