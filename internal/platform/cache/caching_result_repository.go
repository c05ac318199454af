// Package cache provides caching implementations for repository interfaces.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"heliostat_backend/internal/feature/classification/domain/entity"
	"heliostat_backend/internal/feature/classification/usecase"
)

// CachingResultRepository decorates a ResultRepository with Redis caching.
// It implements the decorator pattern, transparently adding caching without
// modifying the underlying repository. Rows are immutable once written, so
// the only invalidation needed is on insert for the affected hash.
type CachingResultRepository struct {
	inner     usecase.ResultRepository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

// NewCachingResultRepository decorates a ResultRepository with Redis caching.
// If ttl is 0, it defaults to 30 minutes. If namespace is empty, it uses "detections".
func NewCachingResultRepository(rdb *redis.Client, ttl time.Duration, inner usecase.ResultRepository, namespace string) *CachingResultRepository {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if namespace == "" {
		namespace = "detections"
	}
	return &CachingResultRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// Insert appends rows and invalidates the cache entry for the affected hash.
func (c *CachingResultRepository) Insert(ctx context.Context, records []entity.DetectionRecord) error {
	// First insert into the underlying repository
	if err := c.inner.Insert(ctx, records); err != nil {
		return err
	}
	// Exit early if Redis is not configured or there are no records
	if c.rdb == nil || len(records) == 0 {
		return nil
	}

	// All records of one insert share the same hash
	_ = c.rdb.Del(ctx, c.cacheKey(records[0].FileHash)).Err() // Best effort: don't fail if cache deletion fails
	return nil
}

// FindByHash retrieves rows for a hash, checking cache first then falling back
// to the database.
func (c *CachingResultRepository) FindByHash(ctx context.Context, fileHash string) ([]entity.DetectionRecord, error) {
	// Bypass cache if Redis is not configured
	if c.rdb == nil {
		return c.inner.FindByHash(ctx, fileHash)
	}

	key := c.cacheKey(fileHash)

	// 1) Check cache
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []entity.DetectionRecord
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
	}

	// 2) Fallback to database
	out, err := c.inner.FindByHash(ctx, fileHash)
	if err != nil {
		return nil, err
	}

	// 3) Store in cache (best effort). Empty results are not cached: an empty
	// lookup is immediately followed by an insert for the same hash.
	if len(out) > 0 {
		if b, err := json.Marshal(out); err == nil {
			_ = c.rdb.Set(ctx, key, b, c.ttl).Err()
		}
	}

	return out, nil
}

// cacheKey generates the cache key for a content hash.
func (c *CachingResultRepository) cacheKey(fileHash string) string {
	return fmt.Sprintf("%s:%s", c.namespace, fileHash)
}
