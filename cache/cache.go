package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or its value cannot be
// decoded into the requested type.
var ErrMiss = errors.New("cache: miss")

// Cache stores JSON-encoded values in Redis under a shared prefix.
type Cache struct {
	redis  redis.UniversalClient
	prefix string
}

func New(redisClient redis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = "cache"
	}
	return &Cache{redis: redisClient, prefix: prefix}
}

// Key builds a deterministic cache key from a namespace and its parts.
// Parts are hashed so raw values (emails, tokens) never appear in Redis.
func Key(namespace string, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(sum[:16])
}

// Set stores value under key for ttl. A zero ttl stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	if err := c.redis.Set(ctx, c.scoped(key), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Delete removes a single key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, c.scoped(key)).Err(); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key currently holds a value.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.redis.Exists(ctx, c.scoped(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// InvalidatePrefix deletes every key under the given namespace prefix
// using SCAN, so it stays safe on large keyspaces. Returns the number of
// keys removed.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := c.scoped(prefix) + "*"
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return removed, fmt.Errorf("cache: delete under %q: %w", pattern, err)
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Get loads and decodes the value stored under key. Absent keys and
// values that no longer decode into T both report ErrMiss.
func Get[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	raw, err := c.redis.Get(ctx, c.scoped(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, ErrMiss
		}
		return zero, fmt.Errorf("cache: get %q: %w", key, err)
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, ErrMiss
	}
	return value, nil
}

// GetOrCompute returns the cached value for key, computing and storing
// it on a miss. Compute errors are returned without caching.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	value, err := Get[T](ctx, c, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrMiss) {
		return value, err
	}

	value, err = compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.Set(ctx, key, value, ttl); err != nil {
		return value, err
	}
	return value, nil
}

func (c *Cache) scoped(key string) string {
	return c.prefix + ":" + key
}
