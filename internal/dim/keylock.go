package dim

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// KeyLock serializes work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe; the same key always maps to one stripe.
type KeyLock struct {
	stripes []sync.Mutex
}

func NewKeyLock(stripes int) *KeyLock {
	if stripes <= 0 {
		stripes = 256
	}
	return &KeyLock{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *KeyLock) Lock(key string) (unlock func()) {
	m := &l.stripes[murmur3.Sum32([]byte(key))%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
