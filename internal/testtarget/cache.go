package testtarget

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache outcome reported in the X-Cache response header.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
	CacheWait = "wait"
)

// productCache is a cache-aside store for the product catalog. On a
// miss, concurrent callers are coalesced through singleflight so the
// slow backing load runs once; the leader reports a miss and everyone
// who piggybacked on its flight reports a wait.
type productCache struct {
	ttl  time.Duration
	load func() ([]byte, error)

	mu      sync.Mutex
	value   []byte
	expires time.Time

	group singleflight.Group
}

func newProductCache(ttl time.Duration, load func() ([]byte, error)) *productCache {
	return &productCache{ttl: ttl, load: load}
}

// Get returns the cached payload and the cache outcome.
func (c *productCache) Get() ([]byte, string, error) {
	if v, ok := c.cached(); ok {
		return v, CacheHit, nil
	}

	v, err, shared := c.group.Do("products", func() (interface{}, error) {
		// A flight that lost the race to a just-finished fill can serve
		// the fresh value without reloading.
		if v, ok := c.cached(); ok {
			return v, nil
		}
		data, err := c.load()
		if err != nil {
			return nil, err
		}
		c.set(data)
		return data, nil
	})
	if err != nil {
		return nil, CacheMiss, err
	}

	outcome := CacheMiss
	if shared {
		outcome = CacheWait
	}
	return v.([]byte), outcome, nil
}

func (c *productCache) cached() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.value, true
}

func (c *productCache) set(data []byte) {
	c.mu.Lock()
	c.value = data
	c.expires = time.Now().Add(c.ttl)
	c.mu.Unlock()
}

// Invalidate drops the cached value so the next Get reloads.
func (c *productCache) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.expires = time.Time{}
	c.mu.Unlock()
}
