package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// QuoteCache is a sharded TTL cache for spot quotes, keyed by market symbol.
// Sharding keeps many concurrent agent loops off a single lock.
type QuoteCache struct {
	ttl    time.Duration
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]quoteEntry
}

type quoteEntry struct {
	price     float64
	updatedAt time.Time
}

// NewQuoteCache creates a cache whose entries expire after ttl.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	c := &QuoteCache{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]quoteEntry)}
	}
	return c
}

func (c *QuoteCache) getShard(symbol string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price observation for a symbol.
func (c *QuoteCache) Set(symbol string, price float64, observedAt time.Time) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = quoteEntry{price: price, updatedAt: observedAt}
	shard.mu.Unlock()
}

// Get returns the cached price and observation time for a symbol. ok is false
// for unknown or expired entries; expired entries are left for Set to
// overwrite.
func (c *QuoteCache) Get(symbol string) (price float64, observedAt time.Time, ok bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, found := shard.items[symbol]
	shard.mu.RUnlock()

	if !found || time.Since(entry.updatedAt) >= c.ttl {
		return 0, time.Time{}, false
	}
	return entry.price, entry.updatedAt, true
}

// Len returns the number of stored entries, expired ones included.
func (c *QuoteCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}
