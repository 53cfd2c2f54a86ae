package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const cacheKeyPrefix = "mapharvest:contact:"

// RedisCache stores contacts in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewRedisCache(addr string, ttl time.Duration, log logrus.FieldLogger) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		log:    log,
	}
}

// Ping checks connectivity so callers can fail fast on a bad address.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, domain string) (Contact, bool) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+domain).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.log != nil {
			c.log.WithError(err).WithField("domain", domain).Warn("contact cache read failed")
		}
		return Contact{}, false
	}
	var contact Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		return Contact{}, false
	}
	return contact, true
}

func (c *RedisCache) Set(ctx context.Context, domain string, contact Contact) {
	raw, err := json.Marshal(contact)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+domain, raw, c.ttl).Err(); err != nil && c.log != nil {
		c.log.WithError(err).WithField("domain", domain).Warn("contact cache write failed")
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// MemoryCache shares contacts between the actors of a single run.
type MemoryCache struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{contacts: make(map[string]Contact)}
}

func (c *MemoryCache) Get(_ context.Context, domain string) (Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contact, ok := c.contacts[domain]
	return contact, ok
}

func (c *MemoryCache) Set(_ context.Context, domain string, contact Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contacts[domain] = contact
}
