// Package cache provides a Redis response cache for model calls. Only
// successful responses are stored. Redis failures degrade to uncached calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-t2ieval/internal/llm/configuration"
	"github.com/ahrav/go-t2ieval/internal/llm/transport"
)

const connectionTimeout = 5 * time.Second

// Store is the subset of redis.Cmdable the cache needs.
type Store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Observer is told about every lookup.
type Observer func(hit bool)

type cacheMiddleware struct {
	store    Store
	ttl      time.Duration
	prefix   string
	logger   *slog.Logger
	observer Observer
}

// Option configures the middleware.
type Option func(*cacheMiddleware)

// WithObserver registers a lookup callback.
func WithObserver(o Observer) Option {
	return func(c *cacheMiddleware) { c.observer = o }
}

// NewCacheMiddlewareWithRedis creates the cache. With a nil store it dials
// cfg.RedisAddr; an unreachable server yields a pass-through middleware.
func NewCacheMiddlewareWithRedis(ctx context.Context, cfg configuration.CacheConfig, store Store, opts ...Option) transport.Middleware {
	logger := slog.Default().With("component", "cache")

	if store == nil {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis connection failed, cache disabled", "addr", cfg.RedisAddr, "error", err)
			_ = client.Close()
			return func(next transport.Handler) transport.Handler { return next }
		}
		store = client
	}

	c := &cacheMiddleware{
		store:  store,
		ttl:    cfg.TTL,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c.middleware()
}

func (c *cacheMiddleware) middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			key, err := c.key(req)
			if err != nil {
				c.logger.Warn("cache key failed", "error", err)
				return next.Handle(ctx, req)
			}

			if cached, ok := c.get(ctx, key); ok {
				c.observe(true)
				c.logger.Debug("cache hit", "key", key, "provider", req.Provider, "model", req.Model)
				return cached, nil
			}
			c.observe(false)

			resp, err := next.Handle(ctx, req)
			if err != nil {
				return nil, err
			}
			c.set(ctx, key, resp)
			return resp, nil
		})
	}
}

func (c *cacheMiddleware) observe(hit bool) {
	if c.observer != nil {
		c.observer(hit)
	}
}

// key hashes the canonical JSON form of the request. Control fields are
// excluded by the request's JSON tags.
func (c *cacheMiddleware) key(req *transport.Request) (string, error) {
	canonical, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return c.prefix + ":" + hex.EncodeToString(sum[:]), nil
}

func (c *cacheMiddleware) get(ctx context.Context, key string) (*transport.Response, bool) {
	raw, err := c.store.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get error", "error", err, "key", key)
		}
		return nil, false
	}
	var resp transport.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.logger.Warn("corrupt cache entry", "error", err, "key", key)
		return nil, false
	}
	return &resp, true
}

func (c *cacheMiddleware) set(ctx context.Context, key string, resp *transport.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("cache encode error", "error", err, "key", key)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set error", "error", err, "key", key)
	}
}
