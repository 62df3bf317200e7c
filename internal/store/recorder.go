package store

import (
	"context"
	"strings"
	"sync"
)

// Op is one recorded store operation, e.g. "get brand_1".
type Op struct {
	Name string
	Key  string
}

func (o Op) String() string { return o.Name + " " + o.Key }

// Recorder wraps a Store and records every data operation made through it.
type Recorder struct {
	Store

	mu  sync.Mutex
	ops []Op
}

func NewRecorder(s Store) *Recorder {
	return &Recorder{Store: s}
}

func (r *Recorder) record(name string, keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Name: name, Key: strings.Join(keys, ",")})
}

func (r *Recorder) Get(ctx context.Context, key string) (string, error) {
	r.record("get", key)
	return r.Store.Get(ctx, key)
}

func (r *Recorder) MGet(ctx context.Context, keys ...string) ([]string, error) {
	r.record("mget", keys...)
	return r.Store.MGet(ctx, keys...)
}

func (r *Recorder) Set(ctx context.Context, key, val string) error {
	r.record("set", key)
	return r.Store.Set(ctx, key, val)
}

func (r *Recorder) Del(ctx context.Context, key string) error {
	r.record("del", key)
	return r.Store.Del(ctx, key)
}

// Ops returns a copy of the recorded operations.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Reset forgets recorded operations.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}
