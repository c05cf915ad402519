// Package modelcache provides a Redis-backed read cache in front of the
// registry's GetProduction lookup, plus the model_promoted pub/sub signal
// that lets every process instance invalidate its cached entry the instant
// a promotion commits elsewhere. The teacher's own internal/database/redis_cache.go
// is a placeholder in-memory map despite being named RedisCache and despite
// the teacher's go.mod carrying a real github.com/redis/go-redis dependency;
// this package gives that dependency its first real backing client.
package modelcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sentryml/internal/config"
	"sentryml/internal/models"
	"sentryml/internal/observability"
)

// Cache wraps a redis.Client with the GetProduction read-through pattern
// and the promotion-invalidation channel.
type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	channel string
	logger  *observability.Logger
}

// New connects to the Redis instance described by cfg.
func New(cfg config.CacheConfig, logger *observability.Logger) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{rdb: rdb, ttl: cfg.ProductionTTL, channel: cfg.PromotionChannel, logger: logger}
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error { return c.rdb.Close() }

func cacheKey(modelName string) string { return "production:" + modelName }

// GetProduction returns the cached Production ModelVersion for modelName if
// present and unexpired, otherwise calls loader, caches its result with the
// configured TTL, and returns it. A loader returning (nil, nil) (no
// Production row exists) is cached as a negative entry with the same TTL.
func (c *Cache) GetProduction(ctx context.Context, modelName string, loader func(ctx context.Context) (*models.ModelVersion, error)) (*models.ModelVersion, error) {
	key := cacheKey(modelName)

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if raw == "" {
			return nil, nil
		}
		var mv models.ModelVersion
		if err := json.Unmarshal([]byte(raw), &mv); err == nil {
			return &mv, nil
		}
	} else if err != redis.Nil && c.logger != nil {
		c.logger.WithComponent("modelcache").WithError(err).Warn("redis read failed, falling through to loader")
	}

	mv, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if mv == nil {
		_ = c.rdb.Set(ctx, key, "", c.ttl).Err()
		return nil, nil
	}
	data, err := json.Marshal(mv)
	if err == nil {
		_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	return mv, nil
}

// Invalidate removes the cached entry for modelName immediately.
func (c *Cache) Invalidate(ctx context.Context, modelName string) error {
	return c.rdb.Del(ctx, cacheKey(modelName)).Err()
}

// PublishPromotion announces that modelName has a newly promoted version,
// so every subscribed process instance invalidates its cache entry.
func (c *Cache) PublishPromotion(ctx context.Context, modelName string) error {
	if err := c.rdb.Publish(ctx, c.channel, modelName).Err(); err != nil {
		return fmt.Errorf("publish promotion signal: %w", err)
	}
	return nil
}

// WatchPromotions subscribes to the promotion channel and invalidates this
// cache's entry for each announced model name until ctx is canceled. Meant
// to run in its own goroutine for the lifetime of the process.
func (c *Cache) WatchPromotions(ctx context.Context) {
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := c.Invalidate(ctx, msg.Payload); err != nil && c.logger != nil {
				c.logger.WithComponent("modelcache").WithError(err).Warn("invalidate on promotion signal failed")
			}
		}
	}
}
