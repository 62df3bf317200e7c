package dim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fairyhunter13/dim-aggregator/internal/store"
)

const (
	productPrefix       = "product"
	propertyPrefix      = "product_property"
	specificationPrefix = "product_specification"
)

// ErrNotObject is returned when a stored product record is not a JSON object.
var ErrNotObject = errors.New("product record is not a JSON object")

// ProductAggregator merges a product with its property and specification
// records. Sub-records that are absent are left out of the aggregate.
type ProductAggregator struct {
	// Batched reads the three raw records with a single MGET.
	Batched bool
}

func (a ProductAggregator) Aggregate(ctx context.Context, st store.Store, id int64) (Result, error) {
	productKey := store.RawKey(productPrefix, id)
	propertyKey := store.RawKey(propertyPrefix, id)
	specKey := store.RawKey(specificationPrefix, id)
	dimKey := store.DimKey(productPrefix, id)

	var product, property, specification string
	if a.Batched {
		vals, err := st.MGet(ctx, productKey, propertyKey, specKey)
		if err != nil {
			return 0, fmt.Errorf("mget product %d: %w", id, err)
		}
		product, property, specification = vals[0], vals[1], vals[2]
	} else {
		var err error
		if product, err = st.Get(ctx, productKey); err != nil {
			return 0, fmt.Errorf("get %s: %w", productKey, err)
		}
	}

	if product == "" {
		if err := st.Del(ctx, dimKey); err != nil {
			return 0, fmt.Errorf("del %s: %w", dimKey, err)
		}
		return Deleted, nil
	}

	if !a.Batched {
		var err error
		if property, err = st.Get(ctx, propertyKey); err != nil {
			return 0, fmt.Errorf("get %s: %w", propertyKey, err)
		}
		if specification, err = st.Get(ctx, specKey); err != nil {
			return 0, fmt.Errorf("get %s: %w", specKey, err)
		}
	}

	merged, err := MergeProduct(product, property, specification)
	if err != nil {
		return 0, fmt.Errorf("product %d: %w", id, err)
	}
	if err := st.Set(ctx, dimKey, merged); err != nil {
		return 0, fmt.Errorf("set %s: %w", dimKey, err)
	}
	return Written, nil
}

// MergeProduct attaches the property and specification records to the
// product object under product_property and product_specification. Empty
// sub-records are skipped and blank or null ones clear the field. A field of
// the same name already on the product is replaced, never duplicated.
func MergeProduct(product, property, specification string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(product), &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return "", ErrNotObject
	}
	if err := attach(obj, propertyPrefix, property); err != nil {
		return "", err
	}
	if err := attach(obj, specificationPrefix, specification); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", fmt.Errorf("encode product: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// attach sets field to the raw sub-record. An empty record leaves obj alone;
// a blank or null record removes field, so it never serializes as null.
func attach(obj map[string]json.RawMessage, field, raw string) error {
	if raw == "" {
		return nil
	}
	v := bytes.TrimSpace([]byte(raw))
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		delete(obj, field)
		return nil
	}
	if !json.Valid(v) {
		return fmt.Errorf("invalid JSON in %s record", field)
	}
	obj[field] = json.RawMessage(v)
	return nil
}
