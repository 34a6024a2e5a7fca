package mem_cache

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/mosproxy/pkg/cache"
	"github.com/pmkol/mosproxy/pkg/concurrent_map"
	"github.com/pmkol/mosproxy/pkg/request_key"
)

const (
	defaultShardNum        = 16
	defaultCleanerInterval = time.Minute
)

var (
	ErrInvalidTTL = errors.New("cache ttl must be positive")
	nopLogger     = zap.NewNop()
)

var _ cache.Backend = (*MemCache)(nil)

type Opts struct {
	// Shards is the number of independently locked partitions.
	// Must be a power of 2. Default is 16. 1 makes every operation
	// serialize on one lock.
	Shards int

	// MaxEntries bounds the number of stored entries. A full partition
	// drops its oldest insert. 0 means unbounded.
	MaxEntries int

	// CleanerInterval is the period of the background RemoveExpired.
	// <= 0 disables the cleaner.
	CleanerInterval time.Duration

	// Clock returns the current time. Default is time.Now.
	Clock func() time.Time

	// Logger is the *zap.Logger for the cleaner.
	// A nil Logger will disable logging.
	Logger *zap.Logger
}

func (opts *Opts) init() error {
	if opts.Shards == 0 {
		opts.Shards = defaultShardNum
	}
	if opts.Shards < 0 || opts.Shards&(opts.Shards-1) != 0 {
		return errors.New("shards must be a power of 2")
	}
	if opts.MaxEntries < 0 {
		opts.MaxEntries = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// MemCache is an in-memory cache.Backend.
type MemCache struct {
	ttl  time.Duration
	opts Opts

	closed           uint32
	closeCleanerChan chan struct{}
	m                *concurrent_map.ShardedMap[request_key.RequestKey, []byte]
}

func NewMemCache(ttl time.Duration, opts Opts) (*MemCache, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if err := opts.init(); err != nil {
		return nil, err
	}

	sizePerShard := 0
	if opts.MaxEntries > 0 {
		sizePerShard = opts.MaxEntries / opts.Shards
		if sizePerShard < 1 {
			sizePerShard = 1
		}
	}

	c := &MemCache{
		ttl:              ttl,
		opts:             opts,
		closeCleanerChan: make(chan struct{}),
		m:                concurrent_map.NewShardedMap[request_key.RequestKey, []byte](opts.Shards, sizePerShard),
	}
	if opts.CleanerInterval > 0 {
		go c.startCleaner(opts.CleanerInterval)
	}
	return c, nil
}

func (c *MemCache) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

// Close stops the cleaner. It is safe to call Close more than once.
func (c *MemCache) Close() error {
	if atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		close(c.closeCleanerChan)
	}
	return nil
}

func (c *MemCache) TTL() time.Duration {
	return c.ttl
}

func (c *MemCache) Get(key request_key.RequestKey) ([]byte, bool) {
	if c.isClosed() {
		return nil, false
	}

	v, expire, ok := c.m.Get(key)
	if !ok {
		return nil, false
	}
	if !c.opts.Clock().Before(expire) {
		return nil, false
	}
	return v, true
}

func (c *MemCache) Insert(key request_key.RequestKey, body []byte) {
	if c.isClosed() {
		return
	}

	buf := make([]byte, len(body))
	copy(buf, body)
	c.m.Set(key, buf, c.opts.Clock().Add(c.ttl))
}

func (c *MemCache) RemoveExpired() int {
	now := c.opts.Clock()
	return c.m.Clean(func(_ request_key.RequestKey, _ []byte, expire time.Time) bool {
		return !now.Before(expire)
	})
}

func (c *MemCache) Len() int {
	return c.m.Len()
}

func (c *MemCache) startCleaner(interval time.Duration) {
	if interval <= 0 {
		interval = defaultCleanerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closeCleanerChan:
			return
		case <-ticker.C:
			start := time.Now()
			removed := c.RemoveExpired()
			c.opts.Logger.Debug(
				"expired entries removed",
				zap.Int("removed", removed),
				zap.Int("remain", c.Len()),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}
}
