// Package cache is a Redis read-through cache for listings. It is never the
// source of truth: every error degrades to loading from the database, and a
// nil *Cache disables caching entirely.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespaces invalidated as a unit.
const (
	Items      = "items"
	Categories = "categories"
	Loans      = "loans"
)

// Cache stores JSON values under generation-scoped keys. Invalidating a
// namespace bumps its generation so stale entries are never read again and
// simply expire.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a cache on client, or nil when client is nil.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// Connect opens a Redis client for addr and pings it. An empty addr returns
// a nil client.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Fetch returns the cached value for (namespace, key) or calls load and
// caches its result.
func Fetch[T any](ctx context.Context, c *Cache, namespace, key string, load func() (T, error)) (T, error) {
	if c == nil {
		return load()
	}

	gen, err := c.generation(ctx, namespace)
	if err != nil {
		slog.Warn("cache unavailable", "namespace", namespace, "error", err)
		return load()
	}
	full := c.prefix + ":" + namespace + ":" + gen + ":" + key

	raw, err := c.client.Get(ctx, full).Bytes()
	if err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("cache read failed", "key", full, "error", err)
		return load()
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.client.Set(ctx, full, data, c.ttl).Err(); err != nil {
			slog.Warn("cache write failed", "key", full, "error", err)
		}
	}
	return v, nil
}

// Invalidate drops every cached entry of the given namespaces.
func (c *Cache) Invalidate(ctx context.Context, namespaces ...string) {
	if c == nil {
		return
	}
	for _, ns := range namespaces {
		if err := c.client.Incr(ctx, c.generationKey(ns)).Err(); err != nil {
			slog.Warn("cache invalidation failed", "namespace", ns, "error", err)
		}
	}
}

func (c *Cache) generation(ctx context.Context, namespace string) (string, error) {
	n, err := c.client.Get(ctx, c.generationKey(namespace)).Int64()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

func (c *Cache) generationKey(namespace string) string {
	return c.prefix + ":gen:" + namespace
}
