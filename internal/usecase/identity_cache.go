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

const identityKeyPrefix = "identity:"

// IdentityCache is the non-expiring key→ProductIdentity projection. Keys are
// normalized barcodes or image fingerprints. Entries live until explicitly
// invalidated (e.g. a user-reported misidentification); concurrent stores for
// the same key are last-write-wins.
type IdentityCache struct {
	docs   domain.DocumentCache
	logger *zap.Logger
}

// NewIdentityCache creates an identity cache on top of a document cache.
func NewIdentityCache(docs domain.DocumentCache, logger *zap.Logger) *IdentityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityCache{docs: docs, logger: logger}
}

// Lookup returns the entry for key, if any.
func (c *IdentityCache) Lookup(ctx context.Context, key string) (*domain.IdentityCacheEntry, bool, error) {
	data, err := c.docs.Get(ctx, identityKeyPrefix+key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("identity cache lookup: %w", err)
	}

	var entry domain.IdentityCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is as good as a miss; drop it so the next
		// resolution rewrites it.
		c.logger.Warn("dropping corrupt identity cache entry", zap.String("key", key), zap.Error(err))
		_ = c.docs.Delete(ctx, identityKeyPrefix+key)
		return nil, false, nil
	}
	return &entry, true, nil
}

// Store writes an entry under its key, overwriting any previous value.
func (c *IdentityCache) Store(ctx context.Context, entry *domain.IdentityCacheEntry) error {
	if entry == nil || entry.Key == "" || entry.Identity == nil {
		return domain.ErrInvalidRequest
	}
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("identity cache marshal: %w", err)
	}
	// TTL zero: identity entries never expire on their own.
	return c.docs.Set(ctx, identityKeyPrefix+entry.Key, data, 0)
}

// Invalidate removes the entry for key, if present.
func (c *IdentityCache) Invalidate(ctx context.Context, key string) error {
	return c.docs.Delete(ctx, identityKeyPrefix+key)
}
