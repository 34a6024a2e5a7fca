package concurrent_map

import (
	"fmt"
	"hash/maphash"
	"sync"
	"time"

	"github.com/pmkol/mosproxy/pkg/ttl_map"
)

// Key is a comparable key that can hash itself.
type Key interface {
	comparable
	Hash(seed maphash.Seed) uint64
}

// ShardedMap splits keys over independently locked ConcurrentMap shards.
// With one shard every operation serializes on a single lock.
type ShardedMap[K Key, V any] struct {
	seed maphash.Seed
	l    []*ConcurrentMap[K, V]
	mask uint64 // shardNum - 1 (shardNum must be power of 2)
}

func NewShardedMap[K Key, V any](shardNum, maxSizePerShard int) *ShardedMap[K, V] {
	if shardNum <= 0 || shardNum&(shardNum-1) != 0 {
		panic(fmt.Sprintf("shardNum must be a power of 2 and > 0, got %d", shardNum))
	}

	cm := &ShardedMap[K, V]{
		seed: maphash.MakeSeed(),
		l:    make([]*ConcurrentMap[K, V], shardNum),
		mask: uint64(shardNum - 1),
	}
	for i := range cm.l {
		cm.l[i] = NewConcurrentMap[K, V](maxSizePerShard)
	}
	return cm
}

func (c *ShardedMap[K, V]) getShard(key K) *ConcurrentMap[K, V] {
	return c.l[int(key.Hash(c.seed)&c.mask)]
}

func (c *ShardedMap[K, V]) Set(key K, v V, expire time.Time) (evicted bool) {
	return c.getShard(key).Set(key, v, expire)
}

func (c *ShardedMap[K, V]) Get(key K) (v V, expire time.Time, ok bool) {
	return c.getShard(key).Get(key)
}

func (c *ShardedMap[K, V]) Del(key K) {
	c.getShard(key).Del(key)
}

// Clean runs f over every shard, one shard lock at a time. It is not an
// atomic snapshot of the whole map.
func (c *ShardedMap[K, V]) Clean(f func(key K, v V, expire time.Time) bool) (removed int) {
	for _, shard := range c.l {
		removed += shard.Clean(f)
	}
	return
}

func (c *ShardedMap[K, V]) Len() int {
	sum := 0
	for _, shard := range c.l {
		sum += shard.Len()
	}
	return sum
}

// -----------------------------

type ConcurrentMap[K comparable, V any] struct {
	sync.Mutex
	m *ttl_map.Map[K, V]
}

func NewConcurrentMap[K comparable, V any](maxSize int) *ConcurrentMap[K, V] {
	return &ConcurrentMap[K, V]{
		m: ttl_map.NewMap[K, V](maxSize),
	}
}

func (c *ConcurrentMap[K, V]) Set(key K, v V, expire time.Time) (evicted bool) {
	c.Lock()
	evicted = c.m.Set(key, v, expire)
	c.Unlock()
	return
}

func (c *ConcurrentMap[K, V]) Get(key K) (v V, expire time.Time, ok bool) {
	c.Lock()
	v, expire, ok = c.m.Get(key)
	c.Unlock()
	return
}

func (c *ConcurrentMap[K, V]) Del(key K) {
	c.Lock()
	c.m.Del(key)
	c.Unlock()
}

func (c *ConcurrentMap[K, V]) Clean(f func(key K, v V, expire time.Time) bool) (removed int) {
	c.Lock()
	removed = c.m.Clean(f)
	c.Unlock()
	return
}

func (c *ConcurrentMap[K, V]) Len() int {
	c.Lock()
	n := c.m.Len()
	c.Unlock()
	return n
}
