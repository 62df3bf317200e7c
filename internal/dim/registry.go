package dim

import (
	"sort"
	"sync"
)

// Registry maps a dimension type tag to its aggregator and the raw-key prefix
// its aggregate is stored under.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	prefix string
	agg    Aggregator
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// DefaultRegistry registers brand, category, product_intro and product.
func DefaultRegistry(batchedReads bool) *Registry {
	r := NewRegistry()
	for _, p := range []string{"brand", "category", "product_intro"} {
		r.Register(p, p, CopyAggregator{Prefix: p})
	}
	r.Register("product", productPrefix, ProductAggregator{Batched: batchedReads})
	return r
}

// Register binds tag to agg, replacing any previous binding. prefix is the
// raw-key prefix of the aggregate, so its key is dim_<prefix>_<id>.
func (r *Registry) Register(tag, prefix string, agg Aggregator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tag] = entry{prefix: prefix, agg: agg}
}

func (r *Registry) Lookup(tag string) (Aggregator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e.agg, ok
}

// Prefix returns the raw-key prefix registered for tag.
func (r *Registry) Prefix(tag string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e.prefix, ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.entries))
	for t := range r.entries {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
