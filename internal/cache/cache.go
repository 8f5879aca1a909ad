package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Version tag baked into every key. Bumping it rolls out a formula change
// without purging: old keys simply age out or are never read again.
const keyVersion = "v2"

// TTL classes. Geocode results never expire since addresses do not move.
const (
	TTLTrend   = time.Hour
	TTLScores  = 24 * time.Hour
	TTLGlobal  = 24 * time.Hour
	TTLGeocode = 0
)

// Cache applies the TTL policy over Redis. A nil client yields a no-op
// cache: every read is a miss, every write is dropped, so the pipeline
// runs unchanged without Redis.
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func New(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

// Connect dials Redis and verifies the connection. An empty address
// returns a disabled cache rather than an error.
func Connect(ctx context.Context, addr, password string, db int, logger *logrus.Logger) (*Cache, error) {
	if addr == "" {
		logger.Warn("No Redis address configured, cache disabled")
		return New(nil, logger), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.WithField("addr", addr).Info("Connected to Redis")
	return New(client, logger), nil
}

func (c *Cache) Enabled() bool {
	return c.client != nil
}

// Key builds a deterministic, version-tagged key from query parameters.
func Key(class string, parts ...string) string {
	return "hdb:" + keyVersion + ":" + class + ":" + strings.Join(parts, ":")
}

// GetJSON loads and unmarshals a cached value into dest, reporting whether
// the key was present.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	if c.client == nil {
		return false, nil
	}

	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		// Stale shape from an older build; treat as a miss
		c.logger.WithError(err).WithField("key", key).Warn("Discarding unreadable cache entry")
		return false, nil
	}
	return true, nil
}

// SetJSON stores a value under its TTL class. Cache write failures are
// logged, never propagated: the computed value is still returned upstream.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("Failed to marshal cache value")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to write cache entry")
	}
}
