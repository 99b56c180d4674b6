package lru

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
)

var ErrIllegalCapacity = errors.New("illegal lru cache capacity")
var ErrInvalidSharding = errors.New("invalid sharding")

const (
	minDefaultBytes uint64 = 1 << 20
	maxDefaultBytes uint64 = 64 << 20
)

type OnEvict func(k string, v []byte)

type ShardedCache struct {
	maxBytes uint64
	capacity uint64
	shards   []*lruShard
}

func NewShardedCache(shards int, maxTotalBytes uint64, onEvict OnEvict) (*ShardedCache, error) {
	if maxTotalBytes <= 2 {
		return nil, ErrIllegalCapacity
	}

	if shards < 1 {
		return nil, ErrInvalidSharding
	}

	c := ShardedCache{
		maxBytes: maxTotalBytes,
		capacity: uint64(shards),
		shards:   make([]*lruShard, shards),
	}

	shardMaxBytes := maxTotalBytes / c.capacity
	for i := range c.shards {
		c.shards[i] = newLruShard(shardMaxBytes, onEvict)
	}

	return &c, nil
}

// DefaultMaxBytes sizes a cache at 1/1024 of system memory, clamped to [1MiB, 64MiB].
func DefaultMaxBytes() uint64 {
	total := memory.TotalMemory() / 1024
	if total < minDefaultBytes {
		return minDefaultBytes
	}
	if total > maxDefaultBytes {
		return maxDefaultBytes
	}
	return total
}

func (c *ShardedCache) OnEvict(fn OnEvict) {
	for i := range c.shards {
		c.shards[i].setOnEvict(fn)
	}
}

// Add value to cache under key and returns true if eviction happened
func (c *ShardedCache) Add(key string, value []byte) bool {
	return c.getShard(key).add(key, value)
}

func (c *ShardedCache) Get(key string) ([]byte, bool) {
	return c.getShard(key).get(key)
}

func (c *ShardedCache) Remove(key string) {
	c.getShard(key).remove(key)
}

func (c *ShardedCache) Purge() {
	var wg sync.WaitGroup

	wg.Add(len(c.shards))
	for i := range c.shards {
		go func(i int) {
			defer wg.Done()
			c.shards[i].purge()
		}(i)
	}

	wg.Wait()
}

func (c *ShardedCache) Count() int {
	var count int
	for i := range c.shards {
		count += c.shards[i].len()
	}
	return count
}

func (c *ShardedCache) Keys() []string {
	keys := make([]string, 0, c.Count())

	for i := range c.shards {
		keys = append(keys, c.shards[i].keys()...)
	}

	return keys
}

func (c *ShardedCache) getShard(key string) *lruShard {
	return c.shards[xxhash.Sum64String(key)%c.capacity]
}
