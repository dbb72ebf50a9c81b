package directory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"
)

// MaxCacheTTL is the longest relative expiration memcached accepts; larger
// values are read as Unix timestamps.
const MaxCacheTTL = 30 * 24 * time.Hour

// memcacheClient is the subset of *memcache.Client the cache uses.
type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// MemcacheCache keeps actor documents in memcached. Cache errors are logged
// and treated as misses.
type MemcacheCache struct {
	client memcacheClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewMemcacheCache(servers []string, ttl time.Duration, logger *zap.Logger) *MemcacheCache {
	return newMemcacheCache(memcache.New(servers...), ttl, logger)
}

func newMemcacheCache(c memcacheClient, ttl time.Duration, logger *zap.Logger) *MemcacheCache {
	if ttl > MaxCacheTTL {
		logger.Warn("actor cache TTL clamped", zap.Duration("ttl", ttl), zap.Duration("max", MaxCacheTTL))
		ttl = MaxCacheTTL
	}
	return &MemcacheCache{client: c, ttl: ttl, logger: logger}
}

// memcached keys are limited to 250 bytes without spaces, so actor URIs are
// hashed.
func cacheKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return "actor:" + hex.EncodeToString(sum[:])
}

func (c *MemcacheCache) Get(uri string) ([]byte, bool) {
	item, err := c.client.Get(cacheKey(uri))
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			c.logger.Warn("actor cache get", zap.String("actor", uri), zap.Error(err))
		}
		return nil, false
	}
	return item.Value, true
}

func (c *MemcacheCache) Set(uri string, doc []byte) {
	err := c.client.Set(&memcache.Item{
		Key:        cacheKey(uri),
		Value:      doc,
		Expiration: int32(c.ttl / time.Second),
	})
	if err != nil {
		c.logger.Warn("actor cache set", zap.String("actor", uri), zap.Error(err))
	}
}

func (c *MemcacheCache) Delete(uri string) {
	err := c.client.Delete(cacheKey(uri))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		c.logger.Warn("actor cache delete", zap.String("actor", uri), zap.Error(err))
	}
}
