/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 *
 * mosdns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mosdns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package mem_cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/mosproxy/pkg/request_key"
)

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock(t time.Time) *fakeClock {
	c := new(fakeClock)
	c.now.Store(t.UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.now.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.now.Add(int64(d)) }

func newTestCache(t *testing.T, ttl time.Duration, opts Opts) *MemCache {
	t.Helper()
	c, err := NewMemCache(ttl, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_NewMemCache_badArgs(t *testing.T) {
	_, err := NewMemCache(0, Opts{})
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = NewMemCache(-time.Second, Opts{})
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = NewMemCache(time.Second, Opts{Shards: 3})
	assert.Error(t, err)
}

func Test_memCache(t *testing.T) {
	c := newTestCache(t, time.Minute, Opts{})
	for i := 0; i < 128; i++ {
		key := request_key.New("/", fmt.Sprintf("i=%d", i))
		c.Insert(key, []byte{byte(i)})
		v, ok := c.Get(key)
		if !ok || v[0] != byte(i) {
			t.Fatal("cache kv mismatched")
		}
	}
	assert.Equal(t, 128, c.Len())
	assert.Equal(t, time.Minute, c.TTL())
}

func Test_memCache_copiesValue(t *testing.T) {
	c := newTestCache(t, time.Minute, Opts{})
	k := request_key.New("/foo", "")
	b := []byte("hello")
	c.Insert(k, b)
	b[0] = 'j'

	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))
}

func Test_memCache_expiry(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCache(t, 30*time.Second, Opts{Clock: clock.Now})
	k := request_key.New("/foo", "a=1")

	c.Insert(k, []byte("hello"))

	clock.Advance(10 * time.Second)
	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v))

	// Exactly at expiration the entry is gone.
	clock.Advance(20 * time.Second)
	_, ok = c.Get(k)
	assert.False(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(k)
	assert.False(t, ok)

	// Get does not remove expired entries.
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 0, c.Len())
}

func Test_memCache_overwriteResetsExpiry(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCache(t, 30*time.Second, Opts{Clock: clock.Now})
	k := request_key.New("/foo", "")

	c.Insert(k, []byte("v1"))
	clock.Advance(20 * time.Second)
	c.Insert(k, []byte("v2"))
	clock.Advance(20 * time.Second)

	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
	assert.Equal(t, 1, c.Len())
}

func Test_memCache_RemoveExpired(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCache(t, 10*time.Second, Opts{Clock: clock.Now, Shards: 4})

	old := make([]request_key.RequestKey, 0)
	for i := 0; i < 50; i++ {
		k := request_key.New("/old", fmt.Sprintf("i=%d", i))
		old = append(old, k)
		c.Insert(k, []byte("old"))
	}
	clock.Advance(5 * time.Second)
	fresh := make([]request_key.RequestKey, 0)
	for i := 0; i < 50; i++ {
		k := request_key.New("/fresh", fmt.Sprintf("i=%d", i))
		fresh = append(fresh, k)
		c.Insert(k, []byte(k.String()))
	}
	clock.Advance(5 * time.Second)

	assert.Equal(t, 50, c.RemoveExpired())
	assert.Equal(t, 50, c.Len())
	for _, k := range old {
		_, _, ok := c.m.Get(k)
		assert.False(t, ok, k.String())
	}
	for _, k := range fresh {
		v, exp, ok := c.m.Get(k)
		require.True(t, ok, k.String())
		assert.Equal(t, k.String(), string(v))
		assert.Equal(t, time.Unix(1_700_000_015, 0), exp)
	}

	assert.Equal(t, 0, c.RemoveExpired())
}

func Test_memCache_maxEntries(t *testing.T) {
	c := newTestCache(t, time.Minute, Opts{Shards: 1, MaxEntries: 8})
	for i := 0; i < 64; i++ {
		c.Insert(request_key.New("/", fmt.Sprintf("i=%d", i)), []byte{})
	}
	assert.Equal(t, 8, c.Len())
	_, ok := c.Get(request_key.New("/", "i=63"))
	assert.True(t, ok)
	_, ok = c.Get(request_key.New("/", "i=0"))
	assert.False(t, ok)
}

func Test_memCache_cleaner(t *testing.T) {
	c := newTestCache(t, time.Millisecond, Opts{CleanerInterval: time.Millisecond * 10})
	for i := 0; i < 64; i++ {
		c.Insert(request_key.New("/", fmt.Sprintf("i=%d", i)), make([]byte, 0))
	}

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond*10)
}

func Test_memCache_closed(t *testing.T) {
	c := newTestCache(t, time.Minute, Opts{CleanerInterval: time.Millisecond})
	k := request_key.New("/foo", "")
	c.Insert(k, []byte("x"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, ok := c.Get(k)
	assert.False(t, ok)
	c.Insert(request_key.New("/bar", ""), []byte("y"))
	assert.Equal(t, 1, c.Len())
}

func Test_memCache_race(t *testing.T) {
	c := newTestCache(t, time.Minute, Opts{Shards: 1})

	wg := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				key := request_key.New(fmt.Sprintf("/w%d", worker), fmt.Sprintf("i=%d", i))
				c.Insert(key, []byte(key.String()))
				if v, ok := c.Get(key); !ok || string(v) != key.String() {
					t.Errorf("torn or lost entry %s", key)
				}
				c.RemoveExpired()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 32*256, c.Len())
}
