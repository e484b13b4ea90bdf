package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dalfonso89/crypto-conversion-service/internal/config"
	"github.com/dalfonso89/crypto-conversion-service/internal/models"
)

// Store keeps serialized values with an expiry. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// MemoryStore is a process local Store. Expired entries are evicted when read.
type MemoryStore struct {
	mutex   sync.RWMutex
	entries map[string]models.CacheEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.CacheEntry),
		now:     time.Now,
	}
}

func (store *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	store.mutex.RLock()
	entry, found := store.entries[key]
	store.mutex.RUnlock()

	if !found {
		return nil, false, nil
	}
	if entry.Expired(store.now()) {
		store.mutex.Lock()
		// a concurrent writer may have replaced the entry meanwhile
		if current, stillThere := store.entries[key]; stillThere && current.Expired(store.now()) {
			delete(store.entries, key)
		}
		store.mutex.Unlock()
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (store *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: store.now().Add(ttl),
	}

	store.mutex.Lock()
	store.entries[key] = entry
	store.mutex.Unlock()
	return nil
}

func (store *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included
func (store *MemoryStore) Len() int {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	return len(store.entries)
}

// RedisStore shares cached responses between replicas through Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects lazily to the configured Redis server
func NewRedisStore(configuration config.Cache) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         configuration.RedisAddr,
		Password:     configuration.RedisPassword,
		DB:           configuration.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return NewRedisStoreWithClient(client, "conversion:")
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (store *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := store.client.Get(ctx, store.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (store *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return store.client.Set(ctx, store.prefix+key, value, ttl).Err()
}

func (store *RedisStore) Ping(ctx context.Context) error {
	return store.client.Ping(ctx).Err()
}

func (store *RedisStore) Close() error {
	return store.client.Close()
}

// NewStore builds the store selected by the configuration
func NewStore(configuration config.Cache) Store {
	if configuration.Backend == config.CacheBackendRedis {
		return NewRedisStore(configuration)
	}
	return NewMemoryStore()
}
