package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

const dimensionKeyPrefix = "dimension:"

// DimensionCache is the 30-day-TTL key→DimensionAnalysis projection. Reads
// refresh LastAccessedAt but never extend ExpiresAt; expired entries are
// treated as absent.
type DimensionCache struct {
	docs   domain.DocumentCache
	logger *zap.Logger
	now    func() time.Time
}

// NewDimensionCache creates a dimension cache on top of a document cache.
func NewDimensionCache(docs domain.DocumentCache, logger *zap.Logger) *DimensionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DimensionCache{docs: docs, logger: logger, now: time.Now}
}

// Lookup returns the non-expired entry for productID, refreshing its
// LastAccessedAt. Expired entries are deleted and reported as a miss.
func (c *DimensionCache) Lookup(ctx context.Context, productID string) (*domain.DimensionCacheEntry, bool, error) {
	key := dimensionKeyPrefix + productID
	data, err := c.docs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("dimension cache lookup: %w", err)
	}

	var entry domain.DimensionCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("dropping corrupt dimension cache entry", zap.String("productId", productID), zap.Error(err))
		_ = c.docs.Delete(ctx, key)
		return nil, false, nil
	}

	now := c.now()
	if entry.Expired(now) {
		_ = c.docs.Delete(ctx, key)
		return nil, false, nil
	}

	// Refresh access time only; the expiry set at analysis time stands.
	entry.LastAccessedAt = now
	if refreshed, err := json.Marshal(&entry); err == nil {
		if err := c.docs.Set(ctx, key, refreshed, entry.ExpiresAt.Sub(now)); err != nil {
			c.logger.Warn("failed to refresh dimension access time", zap.String("productId", productID), zap.Error(err))
		}
	}

	entry.Analysis.Cached = true
	return &entry, true, nil
}

// Store writes a fresh analysis with a full 30-day window.
func (c *DimensionCache) Store(ctx context.Context, analysis *domain.DimensionAnalysis) error {
	if analysis == nil || analysis.ProductID == "" {
		return domain.ErrInvalidRequest
	}
	now := c.now()
	if analysis.AnalyzedAt.IsZero() {
		analysis.AnalyzedAt = now
	}

	entry := domain.DimensionCacheEntry{
		Analysis:       *analysis,
		LastAccessedAt: now,
		ExpiresAt:      analysis.AnalyzedAt.Add(domain.DimensionCacheTTL),
	}
	entry.Analysis.Cached = false

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("dimension cache marshal: %w", err)
	}
	return c.docs.Set(ctx, dimensionKeyPrefix+analysis.ProductID, data, entry.ExpiresAt.Sub(now))
}

// Invalidate removes the entry for one product.
func (c *DimensionCache) Invalidate(ctx context.Context, productID string) error {
	return c.docs.Delete(ctx, dimensionKeyPrefix+productID)
}

// InvalidateAll removes every dimension analysis.
func (c *DimensionCache) InvalidateAll(ctx context.Context) error {
	return c.docs.DeleteByPrefix(ctx, dimensionKeyPrefix)
}
