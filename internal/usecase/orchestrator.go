package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

// DefaultConfidenceThreshold is the minimum confidence at which a non-terminal
// tier's answer is accepted.
const DefaultConfidenceThreshold = 0.5

// ProgressReporter is the decoupled progress-event protocol. Open reserves a
// session (it may refuse with ErrResourceExhausted); Emit appends one event,
// finalizing the session when the stage is terminal.
type ProgressReporter interface {
	Open(sessionID string) error
	Emit(sessionID string, stage domain.Stage, message string, payload map[string]any)
}

// OrchestratorConfig tunes the resolution state machine.
type OrchestratorConfig struct {
	ConfidenceThreshold float64
}

// Orchestrator sequences the four resolution tiers over one request:
// START → TIER_1 → TIER_2 → TIER_3 → TIER_4 → {SUCCESS, FAILURE}. Tiers run
// strictly sequentially; a transient tier failure falls through to the next
// tier (recorded for observability), any other tier failure aborts the whole
// request.
type Orchestrator struct {
	tiers     []TierStrategy
	cache     *IdentityCache
	committer *Committer
	progress  ProgressReporter
	sink      domain.EventSink
	threshold float64
	logger    *zap.Logger
}

// NewOrchestrator wires the state machine. Tiers must be supplied cheapest
// first; the orchestrator trusts their order.
func NewOrchestrator(
	tiers []TierStrategy,
	cache *IdentityCache,
	committer *Committer,
	progress ProgressReporter,
	sink domain.EventSink,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tiers:     tiers,
		cache:     cache,
		committer: committer,
		progress:  progress,
		sink:      sink,
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve runs the full cascade for one request and returns the accepted
// result. The caller owns the session id; when absent one is generated and
// echoed back through req.SessionID.
func (o *Orchestrator) Resolve(ctx context.Context, req *domain.ResolutionRequest) (*domain.ResolutionResult, error) {
	if req == nil || (!req.HasBarcode() && !req.HasImage()) {
		return nil, fmt.Errorf("barcode or image required: %w", domain.ErrInvalidRequest)
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if err := o.progress.Open(req.SessionID); err != nil {
		return nil, err
	}
	o.progress.Emit(req.SessionID, domain.StageStart, "resolution started", nil)

	// Cache-first: a prior resolution for either key answers immediately.
	if res := o.cachedResult(ctx, req); res != nil {
		o.emitComplete(req.SessionID, res)
		return res, nil
	}

	scratch := &TierScratch{}
	if req.HasImage() {
		scratch.Fingerprint = ImageFingerprint(req.Image)
	}

	res, err := o.walkTiers(ctx, req, scratch)
	if err != nil {
		o.emitFailure(req.SessionID, err)
		return nil, err
	}

	if !res.Cached {
		saved, _, err := o.committer.UpdateIdentityAndCache(ctx, res.Identity, o.cacheKeys(req, scratch, res), res.Tier, res.Confidence)
		if err != nil {
			o.emitFailure(req.SessionID, err)
			return nil, err
		}
		res.Identity = saved
	}

	o.emitComplete(req.SessionID, res)
	return res, nil
}

// walkTiers runs the cascade and returns the first acceptable result.
func (o *Orchestrator) walkTiers(ctx context.Context, req *domain.ResolutionRequest, scratch *TierScratch) (*domain.ResolutionResult, error) {
	var lastTransient error
	for _, tier := range o.tiers {
		if !tier.Applicable(req, scratch) {
			continue
		}

		stage := domain.TierStage(tier.Tier())
		o.progress.Emit(req.SessionID, stage, fmt.Sprintf("attempting %s", tier.Tier()), nil)

		res, err := tier.Attempt(ctx, req, scratch)
		switch {
		case err == nil:
			if res.Confidence >= o.threshold || tier.Tier() == domain.TierFullAIAnalysis {
				return res, nil
			}
			o.record("tier_low_confidence", req.SessionID, map[string]any{
				"tier":       int(tier.Tier()),
				"confidence": res.Confidence,
			})
		case errors.Is(err, domain.ErrTierNotApplicable):
			// Nothing to do here; the next tier decides.
		case errors.Is(err, domain.ErrTransient):
			// Transient errors are absorbed: recorded, then fall through.
			lastTransient = err
			o.logger.Warn("tier failed transiently",
				zap.Stringer("tier", tier.Tier()),
				zap.String("session_id", req.SessionID),
				zap.Error(err))
			o.record("tier_transient_error", req.SessionID, map[string]any{
				"tier":  int(tier.Tier()),
				"error": err.Error(),
			})
		case domain.Fatal(err):
			// Programming/validation errors abort the whole request.
			return nil, err
		default:
			// The tier genuinely had no answer; fallthrough is the
			// orchestrator's decision, and it continues.
		}
	}

	// A cascade where transient failures kept tiers from answering never
	// reached a verdict on whether the identity exists; the caller may
	// retry. Only a walk with no absorbed transient error is a not-found.
	if lastTransient != nil {
		return nil, fmt.Errorf("all applicable tiers exhausted: %w", lastTransient)
	}
	return nil, fmt.Errorf("all applicable tiers exhausted: %w", domain.ErrProductNotFound)
}

// cachedResult serves a request straight from the identity cache without
// invoking any tier.
func (o *Orchestrator) cachedResult(ctx context.Context, req *domain.ResolutionRequest) *domain.ResolutionResult {
	for _, key := range o.requestKeys(req) {
		entry, found, err := o.cache.Lookup(ctx, key)
		if err != nil {
			o.logger.Warn("identity cache pre-check failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if found {
			return &domain.ResolutionResult{
				Identity:   entry.Identity,
				Tier:       entry.Tier,
				Confidence: entry.Confidence,
				Cached:     true,
			}
		}
	}
	return nil
}

// requestKeys lists the identity-cache keys derivable from the raw request.
func (o *Orchestrator) requestKeys(req *domain.ResolutionRequest) []string {
	var keys []string
	if b := NormalizeBarcode(req.Barcode); b != "" {
		keys = append(keys, b)
	}
	if req.HasImage() {
		keys = append(keys, ImageFingerprint(req.Image))
	}
	return keys
}

// cacheKeys lists every key the accepted result should be reachable under:
// the request's barcode and fingerprint, plus a barcode the resolution itself
// uncovered.
func (o *Orchestrator) cacheKeys(req *domain.ResolutionRequest, scratch *TierScratch, res *domain.ResolutionResult) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(key string) {
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	add(NormalizeBarcode(req.Barcode))
	add(scratch.Fingerprint)
	if res.Identity != nil {
		add(NormalizeBarcode(res.Identity.Barcode))
	}
	return keys
}

func (o *Orchestrator) emitComplete(sessionID string, res *domain.ResolutionResult) {
	o.progress.Emit(sessionID, domain.StageComplete, "resolution complete", map[string]any{
		"tier":       int(res.Tier),
		"confidence": res.Confidence,
		"cached":     res.Cached,
	})
}

func (o *Orchestrator) emitFailure(sessionID string, err error) {
	o.progress.Emit(sessionID, domain.StageError, err.Error(), map[string]any{
		"code":      domain.ErrorCode(err),
		"retryable": domain.Retryable(err),
	})
}

func (o *Orchestrator) record(kind, sessionID string, fields map[string]any) {
	if o.sink == nil {
		return
	}
	o.sink.Record(domain.SinkEvent{
		Kind:      kind,
		SessionID: sessionID,
		Fields:    fields,
		Timestamp: time.Now(),
	})
}
