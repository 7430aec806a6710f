package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vehiclemarket/adrotation/internal/db"
	"github.com/vehiclemarket/adrotation/internal/models"
	"github.com/vehiclemarket/adrotation/internal/observability"
)

// ConfigSource provides rotation configs and the set of known sections.
type ConfigSource interface {
	// GetConfigBySection returns the config for a section, nil when none exists.
	GetConfigBySection(ctx context.Context, section string) (*models.RotationConfig, error)
	// ListConfiguredSections returns every section with a config row.
	ListConfiguredSections(ctx context.Context) ([]string, error)
}

// Cache is a cache-aside wrapper around the Engine. Results live in Redis
// under a per-section key with a TTL from the section's config. Any Redis
// connectivity failure degrades to direct computation; only campaign/config
// source failures propagate to callers.
type Cache struct {
	store   *db.RedisStore
	engine  *Engine
	configs ConfigSource
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// NewCache constructs a Cache over the given engine and stores.
func NewCache(store *db.RedisStore, engine *Engine, configs ConfigSource, logger *zap.Logger, metrics observability.MetricsRegistry) *Cache {
	return &Cache{
		store:   store,
		engine:  engine,
		configs: configs,
		logger:  logger,
		metrics: metrics,
	}
}

// cacheKey derives the Redis key for a section. The rotation is identical
// for every viewer of a section, so the section is the only key dimension.
func cacheKey(section string) string {
	return fmt.Sprintf("rotation:%s", strings.ToLower(section))
}

// GetRotation returns the rotation for a section, serving from Redis when
// possible. A nil result with nil error means no ads are configured for the
// section.
func (c *Cache) GetRotation(ctx context.Context, section string) (*models.RotationResult, error) {
	data, err := c.store.Get(ctx, cacheKey(section))
	if err == nil {
		var result models.RotationResult
		if uerr := json.Unmarshal(data, &result); uerr != nil {
			// A corrupt entry is just a miss; the refresh below overwrites it.
			c.logger.Warn("malformed cached rotation, recomputing",
				zap.String("section", section), zap.Error(uerr))
			return c.RefreshRotation(ctx, section)
		}
		c.metrics.IncrementCacheHits()
		return &result, nil
	}
	if errors.Is(err, db.ErrCacheMiss) {
		return c.RefreshRotation(ctx, section)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Redis is unreachable: serve uncached rather than failing the request,
	// and skip the write-back since it would fail the same way.
	c.logger.Warn("rotation cache unavailable, computing directly",
		zap.String("section", section), zap.Error(err))
	return c.computeDirect(ctx, section)
}

// RefreshRotation recomputes the rotation for a section and stores it with a
// TTL from the section's config. The fresh result is returned even when the
// cache write fails.
func (c *Cache) RefreshRotation(ctx context.Context, section string) (*models.RotationResult, error) {
	cfg, err := c.configs.GetConfigBySection(ctx, section)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Active {
		return nil, nil
	}

	result, err := c.compute(ctx, section, cfg)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode rotation for %q: %w", section, err)
	}
	if err := c.store.SetWithTTL(ctx, cacheKey(section), data, cfg.RefreshInterval()); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("rotation cache write failed",
			zap.String("section", section), zap.Error(err))
	}
	return result, nil
}

// computeDirect runs the config-lookup + compute path without touching the
// cache store at all.
func (c *Cache) computeDirect(ctx context.Context, section string) (*models.RotationResult, error) {
	cfg, err := c.configs.GetConfigBySection(ctx, section)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Active {
		return nil, nil
	}
	return c.compute(ctx, section, cfg)
}

// compute invokes the engine and records the miss counter and latency.
func (c *Cache) compute(ctx context.Context, section string, cfg *models.RotationConfig) (*models.RotationResult, error) {
	c.metrics.IncrementCacheMisses()
	start := time.Now()
	result, err := c.engine.ComputeRotation(ctx, section, cfg)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordRotationDuration(section, time.Since(start))
	return result, nil
}

// Invalidate drops the cached rotation for one section. Store errors are
// logged and swallowed; the entry will expire by TTL anyway.
func (c *Cache) Invalidate(ctx context.Context, section string) {
	if err := c.store.Delete(ctx, cacheKey(section)); err != nil {
		c.logger.Warn("rotation cache invalidation failed",
			zap.String("section", section), zap.Error(err))
	}
}

// InvalidateAll drops the cached rotation for every configured section.
// Failing to enumerate sections is logged, not propagated, to keep the
// operation best-effort like Invalidate.
func (c *Cache) InvalidateAll(ctx context.Context) {
	sections, err := c.configs.ListConfiguredSections(ctx)
	if err != nil {
		c.logger.Warn("listing sections for invalidation failed", zap.Error(err))
		return
	}
	for _, section := range sections {
		c.Invalidate(ctx, section)
	}
}
