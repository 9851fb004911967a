package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelfscan/backend/internal/domain"
)

// TierScratch carries cheap intermediate results forward so later tiers do
// not repeat earlier work. It lives for one resolution only.
type TierScratch struct {
	Fingerprint          string
	ExtractedText        string
	ExtractionConfidence float64
}

// TierStrategy is one resolution strategy. Applicable reports whether the
// request carries what the tier needs; Attempt still returns
// ErrTierNotApplicable if invoked regardless. The orchestrator, not the tier,
// decides what happens after any failure.
type TierStrategy interface {
	Tier() domain.Tier
	Applicable(req *domain.ResolutionRequest, scratch *TierScratch) bool
	Attempt(ctx context.Context, req *domain.ResolutionRequest, scratch *TierScratch) (*domain.ResolutionResult, error)
}

// --- Tier 1: direct barcode ---

// BarcodeTier answers from the identity cache or the relational repository
// with confidence 1.0, or reports not-found. It never falls through on its
// own.
type BarcodeTier struct {
	cache *IdentityCache
	repo  domain.ProductRepository
}

// NewBarcodeTier creates the direct-barcode tier.
func NewBarcodeTier(cache *IdentityCache, repo domain.ProductRepository) *BarcodeTier {
	return &BarcodeTier{cache: cache, repo: repo}
}

func (t *BarcodeTier) Tier() domain.Tier { return domain.TierDirectBarcode }

func (t *BarcodeTier) Applicable(req *domain.ResolutionRequest, _ *TierScratch) bool {
	return NormalizeBarcode(req.Barcode) != ""
}

func (t *BarcodeTier) Attempt(ctx context.Context, req *domain.ResolutionRequest, _ *TierScratch) (*domain.ResolutionResult, error) {
	if !req.HasBarcode() {
		return nil, domain.ErrTierNotApplicable
	}
	barcode := NormalizeBarcode(req.Barcode)
	if barcode == "" {
		return nil, domain.ErrTierNotApplicable
	}

	if entry, found, err := t.cache.Lookup(ctx, barcode); err == nil && found {
		return &domain.ResolutionResult{
			Identity:   entry.Identity,
			Tier:       domain.TierDirectBarcode,
			Confidence: 1.0,
			Cached:     true,
		}, nil
	}

	identity, err := t.repo.FindByBarcode(ctx, barcode)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return nil, fmt.Errorf("barcode %q: %w", barcode, domain.ErrProductNotFound)
		}
		return nil, err
	}
	return &domain.ResolutionResult{
		Identity:   identity,
		Tier:       domain.TierDirectBarcode,
		Confidence: 1.0,
	}, nil
}

// --- Tier 2: visual text extraction ---

// VisualTextTier reads packaging text off the image and searches the
// repository with it. Confidence is extraction quality × match quality, so a
// weak extraction caps what any match can score.
type VisualTextTier struct {
	vision  domain.VisualAnalyzer
	repo    domain.ProductRepository
	matcher *TextMatcher
}

// NewVisualTextTier creates the visual-text-extraction tier.
func NewVisualTextTier(vision domain.VisualAnalyzer, repo domain.ProductRepository) *VisualTextTier {
	return &VisualTextTier{vision: vision, repo: repo, matcher: NewTextMatcher()}
}

func (t *VisualTextTier) Tier() domain.Tier { return domain.TierVisualText }

func (t *VisualTextTier) Applicable(req *domain.ResolutionRequest, _ *TierScratch) bool {
	return req.HasImage()
}

func (t *VisualTextTier) Attempt(ctx context.Context, req *domain.ResolutionRequest, scratch *TierScratch) (*domain.ResolutionResult, error) {
	if !req.HasImage() {
		return nil, domain.ErrTierNotApplicable
	}

	extraction, err := t.vision.ExtractText(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	if extraction == nil || extraction.Text == "" {
		return nil, fmt.Errorf("no readable packaging text: %w", domain.ErrProductNotFound)
	}

	// Keep the extraction around: Tier 3 builds its discovery query from it.
	scratch.ExtractedText = extraction.Text
	scratch.ExtractionConfidence = extraction.Confidence

	candidates, err := t.repo.FindByText(ctx, extraction.Text)
	if err != nil {
		return nil, err
	}

	best, matchQuality := t.matcher.BestMatch(extraction.Text, "", candidates)
	if best == nil || matchQuality == 0 {
		return nil, fmt.Errorf("extracted text %q matched nothing: %w", extraction.Text, domain.ErrProductNotFound)
	}

	return &domain.ResolutionResult{
		Identity:   best,
		Tier:       domain.TierVisualText,
		Confidence: extraction.Confidence * matchQuality,
	}, nil
}

// --- Tier 3: discovery search ---

// DiscoveryTier asks the web discovery capability for a plausible barcode and
// persists what it finds. It is the only tier that mutates durable state
// before the orchestrator's own write-back, so the write goes through the
// committer's speculative (snapshot/restore) discipline.
type DiscoveryTier struct {
	discovery domain.WebDiscoverySearch
	repo      domain.ProductRepository
	committer *Committer
}

// NewDiscoveryTier creates the discovery-search tier.
func NewDiscoveryTier(discovery domain.WebDiscoverySearch, repo domain.ProductRepository, committer *Committer) *DiscoveryTier {
	return &DiscoveryTier{discovery: discovery, repo: repo, committer: committer}
}

func (t *DiscoveryTier) Tier() domain.Tier { return domain.TierDiscovery }

func (t *DiscoveryTier) Applicable(_ *domain.ResolutionRequest, scratch *TierScratch) bool {
	return scratch.ExtractedText != ""
}

func (t *DiscoveryTier) Attempt(ctx context.Context, req *domain.ResolutionRequest, scratch *TierScratch) (*domain.ResolutionResult, error) {
	if scratch.ExtractedText == "" {
		// Without at least a partial identity there is nothing to search for.
		return nil, domain.ErrTierNotApplicable
	}

	hit, err := t.discovery.FindBarcode(ctx, domain.DiscoveryQuery{Text: scratch.ExtractedText})
	if err != nil {
		return nil, err
	}

	barcode := NormalizeBarcode(hit.Barcode)
	if barcode == "" {
		return nil, fmt.Errorf("discovery returned unusable barcode %q: %w", hit.Barcode, domain.ErrProductNotFound)
	}

	// The discovered barcode may already be on record.
	if existing, err := t.repo.FindByBarcode(ctx, barcode); err == nil && existing != nil {
		return &domain.ResolutionResult{
			Identity:   existing,
			Tier:       domain.TierDiscovery,
			Confidence: hit.Confidence,
		}, nil
	}

	identity := &domain.ProductIdentity{
		Barcode: barcode,
		Name:    scratch.ExtractedText,
		Metadata: map[string]any{
			"discoverySource": hit.SourceURL,
		},
	}
	saved, _, err := t.committer.UpdateSpeculative(ctx, identity, barcode, domain.TierDiscovery, hit.Confidence)
	if err != nil {
		return nil, err
	}

	return &domain.ResolutionResult{
		Identity:   saved,
		Tier:       domain.TierDiscovery,
		Confidence: hit.Confidence,
	}, nil
}

// --- Tier 4: full AI image analysis ---

// FullAnalysisTier asks the visual analyzer for a complete identity guess.
// Given an image it always produces some answer, possibly at low confidence;
// it never reports not-found.
type FullAnalysisTier struct {
	vision domain.VisualAnalyzer
}

// NewFullAnalysisTier creates the terminal full-analysis tier.
func NewFullAnalysisTier(vision domain.VisualAnalyzer) *FullAnalysisTier {
	return &FullAnalysisTier{vision: vision}
}

func (t *FullAnalysisTier) Tier() domain.Tier { return domain.TierFullAIAnalysis }

func (t *FullAnalysisTier) Applicable(req *domain.ResolutionRequest, _ *TierScratch) bool {
	return req.HasImage()
}

func (t *FullAnalysisTier) Attempt(ctx context.Context, req *domain.ResolutionRequest, _ *TierScratch) (*domain.ResolutionResult, error) {
	if !req.HasImage() {
		return nil, domain.ErrTierNotApplicable
	}

	ident, err := t.vision.IdentifyProduct(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.Identity == nil || ident.Identity.Name == "" {
		return nil, fmt.Errorf("analyzer returned no identity: %w", domain.ErrInvalidResponse)
	}

	identity := ident.Identity
	if req.HasBarcode() && identity.Barcode == "" {
		identity.Barcode = NormalizeBarcode(req.Barcode)
	}
	return &domain.ResolutionResult{
		Identity:   identity,
		Tier:       domain.TierFullAIAnalysis,
		Confidence: ident.Confidence,
	}, nil
}
