package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
	"github.com/shelfscan/backend/internal/infrastructure/resilience"
)

// CommitOutcome enumerates how a cross-store write ended. There is no true
// multi-store commit point; compensation is best-effort and that limitation
// is part of the contract.
type CommitOutcome string

const (
	OutcomeCommitted        CommitOutcome = "committed"
	OutcomeCompensated      CommitOutcome = "compensated"
	OutcomeConsistencyFault CommitOutcome = "consistency_fault"
)

// Committer ties the authoritative relational repository and the derived
// identity cache together. Repository writes go through retry with
// exponential backoff, retrying only transient error kinds.
type Committer struct {
	repo   domain.ProductRepository
	cache  *IdentityCache
	exec   *resilience.Executor
	sink   domain.EventSink
	logger *zap.Logger
}

// NewCommitter creates a committer over the two stores.
func NewCommitter(
	repo domain.ProductRepository,
	cache *IdentityCache,
	exec *resilience.Executor,
	sink domain.EventSink,
	logger *zap.Logger,
) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{repo: repo, cache: cache, exec: exec, sink: sink, logger: logger}
}

// transientOnly retries timeouts and connection failures; validation and
// conflict errors go straight back to the caller.
func transientOnly(err error) resilience.ErrorClassification {
	return resilience.ErrorClassification{
		Retryable:     errors.Is(err, domain.ErrTransient),
		RecordFailure: !errors.Is(err, domain.ErrValidation),
	}
}

func (c *Committer) saveWithRetry(ctx context.Context, identity *domain.ProductIdentity) (*domain.ProductIdentity, error) {
	var saved *domain.ProductIdentity
	err := c.exec.Execute(ctx, "repository_save", func(ctx context.Context) error {
		var err error
		saved, err = c.repo.Save(ctx, identity)
		return err
	}, transientOnly)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// UpdateIdentityAndCache writes identity to the repository first (it is
// authoritative) and then caches it under every key. A cache failure after a
// successful repository write is logged and absorbed: the cache is a derived
// projection that self-heals on the next lookup. A repository failure aborts
// before the cache is touched.
func (c *Committer) UpdateIdentityAndCache(
	ctx context.Context,
	identity *domain.ProductIdentity,
	keys []string,
	tier domain.Tier,
	confidence float64,
) (*domain.ProductIdentity, CommitOutcome, error) {
	saved := identity
	if c.needsRepositoryWrite(ctx, identity) {
		var err error
		saved, err = c.saveWithRetry(ctx, identity)
		if err != nil {
			return nil, OutcomeCompensated, fmt.Errorf("identity repository write: %w", err)
		}
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		entry := &domain.IdentityCacheEntry{
			Key:        key,
			Identity:   saved,
			Tier:       tier,
			Confidence: confidence,
			StoredAt:   time.Now(),
		}
		if err := c.cache.Store(ctx, entry); err != nil {
			c.logger.Warn("identity cache write failed after repository commit",
				zap.String("key", key), zap.Error(err))
		}
	}
	return saved, OutcomeCommitted, nil
}

// UpdateSpeculative persists speculative data (Tier 3's discovered barcode):
// the previous cache entry is snapshotted, the speculative entry written, and
// only then the repository. If the repository write fails the cache is
// restored to the snapshot; a failure during that restoration is a
// data-consistency fault reported to the event sink with both attempted
// values, and is never retried automatically.
func (c *Committer) UpdateSpeculative(
	ctx context.Context,
	identity *domain.ProductIdentity,
	key string,
	tier domain.Tier,
	confidence float64,
) (*domain.ProductIdentity, CommitOutcome, error) {
	snapshot, hadPrevious, err := c.cache.Lookup(ctx, key)
	if err != nil {
		return nil, OutcomeCompensated, fmt.Errorf("snapshot identity cache: %w", err)
	}

	speculative := &domain.IdentityCacheEntry{
		Key:        key,
		Identity:   identity,
		Tier:       tier,
		Confidence: confidence,
		StoredAt:   time.Now(),
	}
	if err := c.cache.Store(ctx, speculative); err != nil {
		// Nothing durable has been written yet; fail the attempt cleanly.
		return nil, OutcomeCompensated, fmt.Errorf("speculative cache write: %w", err)
	}

	saved, saveErr := c.saveWithRetry(ctx, identity)
	if saveErr == nil {
		// Re-store so the cached entry carries the repository-assigned ID.
		speculative.Identity = saved
		if err := c.cache.Store(ctx, speculative); err != nil {
			c.logger.Warn("identity cache refresh failed after repository commit",
				zap.String("key", key), zap.Error(err))
		}
		return saved, OutcomeCommitted, nil
	}

	var restoreErr error
	if hadPrevious {
		restoreErr = c.cache.Store(ctx, snapshot)
	} else {
		restoreErr = c.cache.Invalidate(ctx, key)
	}
	if restoreErr == nil {
		return nil, OutcomeCompensated, fmt.Errorf("identity repository write: %w", saveErr)
	}

	c.reportConsistencyFault(key, snapshot, speculative, saveErr, restoreErr)
	return nil, OutcomeConsistencyFault,
		fmt.Errorf("restore identity cache for %q: %w: %w", key, domain.ErrDataConsistency, restoreErr)
}

// needsRepositoryWrite reports whether identity is new or materially changed
// relative to the stored row. Tier metadata alone never forces a write.
func (c *Committer) needsRepositoryWrite(ctx context.Context, identity *domain.ProductIdentity) bool {
	if identity.ID == "" {
		return true
	}
	if identity.Barcode == "" {
		return false
	}
	existing, err := c.repo.FindByBarcode(ctx, identity.Barcode)
	if err != nil || existing == nil {
		return true
	}
	return existing.Name != identity.Name ||
		existing.Brand != identity.Brand ||
		existing.Category != identity.Category ||
		existing.Size != identity.Size ||
		existing.ImageURL != identity.ImageURL
}

func (c *Committer) reportConsistencyFault(
	key string,
	snapshot *domain.IdentityCacheEntry,
	attempted *domain.IdentityCacheEntry,
	saveErr, restoreErr error,
) {
	fields := map[string]any{
		"key":            key,
		"attemptedValue": attempted,
		"previousValue":  snapshot,
		"saveError":      saveErr.Error(),
		"restoreError":   restoreErr.Error(),
	}
	c.logger.Error("identity cache restoration failed; manual reconciliation required",
		zap.String("key", key), zap.Error(restoreErr))
	if c.sink != nil {
		c.sink.Record(domain.SinkEvent{
			Kind:      "data_consistency_fault",
			Message:   "identity cache restoration failed after repository write failure",
			Fields:    fields,
			Timestamp: time.Now(),
		})
	}
}
