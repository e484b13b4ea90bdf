package resilience

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalfonso89/crypto-conversion-service/internal/metrics"
)

// Cache serializes values into a Store. It never fails a request: read errors
// are misses and write errors leave the key uncached.
type Cache struct {
	store   Store
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewCache(store Store, logger logrus.FieldLogger, metrics *metrics.Metrics) *Cache {
	return &Cache{store: store, logger: logger, metrics: metrics}
}

// Lookup decodes the cached value of key into target and reports whether it was found
func (cache *Cache) Lookup(ctx context.Context, call, key string, target interface{}) bool {
	result := cache.read(ctx, key, target)
	cache.metrics.ObserveCacheLookup(call, result)
	if result == "hit" {
		cache.logger.WithField("key", key).Debug("Cache hit")
	}
	return result == "hit"
}

// read decodes the cached value of key into target and returns hit, miss or error
func (cache *Cache) read(ctx context.Context, key string, target interface{}) string {
	raw, found, err := cache.store.Get(ctx, key)
	if err != nil {
		cache.logger.WithField("key", key).Warnf("Cache read failed, treating as miss: %v", err)
		return "error"
	}
	if !found {
		return "miss"
	}
	if err := json.Unmarshal(raw, target); err != nil {
		cache.logger.WithField("key", key).Warnf("Cached value could not be decoded, treating as miss: %v", err)
		return "error"
	}
	return "hit"
}

// Save stores value under key for ttl
func (cache *Cache) Save(ctx context.Context, call, key string, value interface{}, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		cache.metrics.ObserveCacheLookup(call, "encode_error")
		cache.logger.WithField("key", key).Errorf("Value could not be serialized, not caching: %v", err)
		return
	}
	if err := cache.store.Set(ctx, key, raw, ttl); err != nil {
		cache.metrics.ObserveCacheLookup(call, "store_error")
		cache.logger.WithField("key", key).Errorf("Cache write failed: %v", err)
	}
}

// Ping checks the backing store
func (cache *Cache) Ping(ctx context.Context) error {
	return cache.store.Ping(ctx)
}
