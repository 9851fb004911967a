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

// DefaultAnalysisTimeout bounds one dimension analysis end to end, retries
// included.
const DefaultAnalysisTimeout = 10 * time.Second

// AnalysisOutcome is what a dimension analysis returns to the caller.
type AnalysisOutcome struct {
	Analysis         *domain.DimensionAnalysis `json:"analysis"`
	Cached           bool                      `json:"cached"`
	ProcessingTimeMs int64                     `json:"processingTimeMs"`
}

// DimensionAnalyzer scores a product across the five fixed dimensions,
// cache-first against the dimension cache. A miss races the retrying vision
// call against the analysis timeout; whichever resolves first wins, and a
// losing in-flight call is cancelled and abandoned.
type DimensionAnalyzer struct {
	cache   *DimensionCache
	vision  domain.VisualAnalyzer
	exec    *resilience.Executor
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// AnalyzerConfig tunes the dimension analyzer.
type AnalyzerConfig struct {
	Timeout time.Duration
}

// NewDimensionAnalyzer creates an analyzer with explicit dependencies.
func NewDimensionAnalyzer(
	cache *DimensionCache,
	vision domain.VisualAnalyzer,
	exec *resilience.Executor,
	cfg AnalyzerConfig,
	logger *zap.Logger,
) *DimensionAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DimensionAnalyzer{
		cache:   cache,
		vision:  vision,
		exec:    exec,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Analyze returns the dimension analysis for productID, serving a non-expired
// cache entry when one exists. Invalid model output is never cached.
func (a *DimensionAnalyzer) Analyze(ctx context.Context, productID, productContext string, image []byte) (*AnalysisOutcome, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id required: %w", domain.ErrInvalidRequest)
	}
	started := a.now()

	if entry, found, err := a.cache.Lookup(ctx, productID); err == nil && found {
		analysis := entry.Analysis
		return &AnalysisOutcome{
			Analysis:         &analysis,
			Cached:           true,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
		}, nil
	}

	if len(image) == 0 {
		return nil, fmt.Errorf("image required for fresh analysis: %w", domain.ErrInvalidRequest)
	}

	raw, err := a.callWithDeadline(ctx, productContext, image)
	if err != nil {
		return nil, err
	}

	parsed := ParseDimensionResponse(raw)
	if !parsed.OK {
		return nil, fmt.Errorf("%s: %w", parsed.Reason, domain.ErrInvalidResponse)
	}
	scores, overall, err := ValidateDimensions(parsed.Value)
	if err != nil {
		// The partial result is discarded, never cached.
		return nil, err
	}

	analysis := &domain.DimensionAnalysis{
		ProductID:         productID,
		Dimensions:        scores,
		OverallConfidence: overall,
		AnalyzedAt:        a.now(),
	}
	if err := a.cache.Store(ctx, analysis); err != nil {
		a.logger.Warn("failed to cache dimension analysis", zap.String("product_id", productID), zap.Error(err))
	}

	return &AnalysisOutcome{
		Analysis:         analysis,
		Cached:           false,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// callWithDeadline races the retrying vision call against the analysis
// timeout. The result channel is buffered so a late completion after a
// timeout does not strand the goroutine, and cancel aborts the in-flight
// request.
func (a *DimensionAnalyzer) callWithDeadline(ctx context.Context, productContext string, image []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type callResult struct {
		raw string
		err error
	}
	done := make(chan callResult, 1)

	go func() {
		var raw string
		err := a.exec.Execute(callCtx, "analyze_dimensions", func(ctx context.Context) error {
			var err error
			raw, err = a.vision.AnalyzeDimensions(ctx, image, productContext)
			return err
		}, func(err error) resilience.ErrorClassification {
			return resilience.ErrorClassification{
				Retryable:     errors.Is(err, domain.ErrTransient),
				RecordFailure: true,
			}
		})
		done <- callResult{raw: raw, err: err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("dimension analysis exceeded %s: %w", a.timeout, domain.ErrAnalysisTimeout)
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return "", fmt.Errorf("dimension analysis exceeded %s: %w", a.timeout, domain.ErrAnalysisTimeout)
			}
			return "", res.err
		}
		return res.raw, nil
	}
}
