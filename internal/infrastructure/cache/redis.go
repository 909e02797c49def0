// Package cache implements domain.Cache on Redis and in process memory.
// Values are stored as JSON so a cached entry is a snapshot, never an alias
// of a live object.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrops-br/catalog-media-api/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ domain.Cache = (*RedisCache)(nil)

// RedisCache stores entries in Redis under a key prefix
type RedisCache struct {
	client *redis.Client
	prefix string
	tracer trace.Tracer
	logger *slog.Logger
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, prefix string, tracer trace.Tracer, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		tracer: tracer,
		logger: logger,
	}
}

// Get decodes the entry for key into dest and reports whether it was found
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "RedisCache.Get")
	defer span.End()

	span.SetAttributes(attribute.String("cache.key", key))

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache get failed")
		return false, fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache decode failed")
		return false, fmt.Errorf("cache unmarshal error: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return true, nil
}

// Set stores value under key for ttl
func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := c.tracer.Start(ctx, "RedisCache.Set")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.ttl", ttl.String()),
	)

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache encode failed")
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache set failed")
		return fmt.Errorf("cache set error: %w", err)
	}

	return nil
}

// Delete removes keys; missing keys are not an error
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "RedisCache.Delete")
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	span.SetAttributes(attribute.StringSlice("cache.keys", keys))

	if err := c.client.Del(ctx, full...).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Cache delete failed")
		return fmt.Errorf("cache delete error: %w", err)
	}

	c.logger.DebugContext(ctx, "Cache keys forgotten", slog.Any("keys", keys))
	return nil
}

// Ping checks if the Redis connection is healthy
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
