// Package cache provides a generic TTL-bounded in-memory index built on
// an expirable LRU, used by the monitoring service to track in-flight
// message ids awaiting their forward outcome.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLIndex is a size- and time-bounded key/value index. Entries are evicted
// either when they age past ttl or when maxSize forces an LRU eviction,
// whichever comes first.
type TTLIndex[V any] struct {
	lru       *expirable.LRU[string, V]
	mu        sync.Mutex // guards iterate-then-remove operations
	evictions atomic.Int64
	maxSize   int
}

// NewTTLIndex creates an index with the given max size and entry TTL.
func NewTTLIndex[V any](maxSize int, ttl time.Duration) *TTLIndex[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	idx := &TTLIndex[V]{maxSize: maxSize}
	idx.lru = expirable.NewLRU[string, V](maxSize, func(string, V) {
		idx.evictions.Add(1)
	}, ttl)
	return idx
}

func (idx *TTLIndex[V]) Get(key string) (V, bool) {
	return idx.lru.Get(key)
}

func (idx *TTLIndex[V]) Set(key string, value V) {
	idx.lru.Add(key, value)
}

func (idx *TTLIndex[V]) Delete(key string) {
	idx.lru.Remove(key)
}

func (idx *TTLIndex[V]) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lru.Len()
}

// Stats reports point-in-time counters for observability.
type Stats struct {
	Size      int
	MaxSize   int
	Evictions int64
}

func (idx *TTLIndex[V]) Stats() Stats {
	return Stats{
		Size:      idx.lru.Len(),
		MaxSize:   idx.maxSize,
		Evictions: idx.evictions.Load(),
	}
}
