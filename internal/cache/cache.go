package cache

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"estate-backend/internal/logger"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/karlseguin/ccache/v3"
)

const (
	localTTL  = 1 * time.Minute
	remoteTTL = 5 * time.Minute
)

// Cache is a two-level cache: an in-process ccache in front of an optional memcached.
type Cache struct {
	local  *ccache.Cache[[]byte]
	remote *memcache.Client

	mu   sync.Mutex
	gens map[string]uint64
}

// New builds the cache. An empty memcachedHost keeps everything in process.
func New(memcachedHost string) *Cache {
	c := &Cache{
		local: ccache.New(ccache.Configure[[]byte]().MaxSize(2000)),
		gens:  map[string]uint64{},
	}
	if memcachedHost != "" {
		c.remote = memcache.New(memcachedHost)
		logger.Log.WithField("host", memcachedHost).Info("cache using memcached")
	}
	return c
}

func (c *Cache) Get(key string) ([]byte, bool) {
	if item := c.local.Get(key); item != nil && !item.Expired() {
		return item.Value(), true
	}
	if c.remote == nil {
		return nil, false
	}
	it, err := c.remote.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			logger.Log.WithError(err).WithField("key", key).Warn("memcached get failed")
		}
		return nil, false
	}
	c.local.Set(key, it.Value, localTTL)
	return it.Value, true
}

func (c *Cache) Set(key string, val []byte) {
	c.local.Set(key, val, localTTL)
	if c.remote == nil {
		return
	}
	err := c.remote.Set(&memcache.Item{Key: key, Value: val, Expiration: int32(remoteTTL.Seconds())})
	if err != nil {
		logger.Log.WithError(err).WithField("key", key).Warn("memcached set failed")
	}
}

func (c *Cache) Delete(key string) {
	c.local.Delete(key)
	if c.remote == nil {
		return
	}
	if err := c.remote.Delete(key); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		logger.Log.WithError(err).WithField("key", key).Warn("memcached delete failed")
	}
}

// GetJSON decodes a cached value into dst.
func (c *Cache) GetJSON(key string, dst any) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (c *Cache) SetJSON(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(key, raw)
}

// Key prefixes key with the current generation of namespace ns, so Invalidate
// drops every key of the namespace at once on all instances.
func (c *Cache) Key(ns, key string) string {
	return ns + ":" + strconv.FormatUint(c.generation(ns), 10) + ":" + key
}

func (c *Cache) generation(ns string) uint64 {
	genKey := ns + ":gen"
	if c.remote != nil {
		if it, err := c.remote.Get(genKey); err == nil {
			if n, err := strconv.ParseUint(string(it.Value), 10, 64); err == nil {
				return n
			}
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[ns]
}

// Invalidate bumps the generation of ns.
func (c *Cache) Invalidate(ns string) {
	c.mu.Lock()
	c.gens[ns]++
	next := c.gens[ns]
	c.mu.Unlock()
	c.local.DeletePrefix(ns + ":")

	if c.remote == nil {
		return
	}
	genKey := ns + ":gen"
	if _, err := c.remote.Increment(genKey, 1); err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			_ = c.remote.Set(&memcache.Item{Key: genKey, Value: []byte(strconv.FormatUint(next, 10))})
			return
		}
		logger.Log.WithError(err).WithField("namespace", ns).Warn("memcached invalidate failed")
	}
}
