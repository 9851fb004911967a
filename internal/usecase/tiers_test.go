package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/shelfscan/backend/internal/domain"
)

func TestBarcodeTier_CacheHit(t *testing.T) {
	docs := newStubDocs()
	cache := NewIdentityCache(docs, nil)
	repo := newMockRepo()
	tier := NewBarcodeTier(cache, repo)
	ctx := context.Background()

	err := cache.Store(ctx, &domain.IdentityCacheEntry{
		Key:      "4006381333931",
		Identity: &domain.ProductIdentity{ID: "prod-1", Barcode: "4006381333931", Name: "Sparkling Water"},
		Tier:     domain.TierDirectBarcode,
	})
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	req := &domain.ResolutionRequest{Barcode: "4006-381-333931"}
	res, err := tier.Attempt(ctx, req, &TierScratch{})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if !res.Cached {
		t.Error("cache hit not flagged as cached")
	}
	if res.Confidence != 1.0 || res.Tier != domain.TierDirectBarcode {
		t.Errorf("result = tier %v confidence %v", res.Tier, res.Confidence)
	}
}

func TestBarcodeTier_RepositoryHit(t *testing.T) {
	repo := newMockRepo()
	repo.seed(domain.ProductIdentity{ID: "prod-1", Barcode: "4006381333931", Name: "Sparkling Water"})
	tier := NewBarcodeTier(NewIdentityCache(newStubDocs(), nil), repo)

	res, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Barcode: "4006381333931"}, &TierScratch{})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if res.Cached {
		t.Error("repository hit wrongly flagged as cached")
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 for an exact barcode match", res.Confidence)
	}
	if res.Identity.ID != "prod-1" {
		t.Errorf("identity = %+v", res.Identity)
	}
}

func TestBarcodeTier_NotFound(t *testing.T) {
	tier := NewBarcodeTier(NewIdentityCache(newStubDocs(), nil), newMockRepo())

	_, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Barcode: "0000000000"}, &TierScratch{})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("error = %v, want ErrProductNotFound", err)
	}
}

func TestBarcodeTier_Applicability(t *testing.T) {
	tier := NewBarcodeTier(NewIdentityCache(newStubDocs(), nil), newMockRepo())

	if tier.Applicable(&domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{}) {
		t.Error("tier 1 applicable without a barcode")
	}
	if tier.Applicable(&domain.ResolutionRequest{Barcode: "abc"}, &TierScratch{}) {
		t.Error("tier 1 applicable for a barcode with no digits")
	}
	if !tier.Applicable(&domain.ResolutionRequest{Barcode: "123"}, &TierScratch{}) {
		t.Error("tier 1 not applicable despite a digit barcode")
	}
}

func TestVisualTextTier_ConfidenceIsExtractionTimesMatch(t *testing.T) {
	repo := newMockRepo()
	repo.textHits = []domain.ProductIdentity{
		{ID: "prod-1", Name: "Dark Chocolate Bar", Brand: "Acme"},
	}
	vision := &mockVision{
		extractFn: func(context.Context, []byte) (*domain.TextExtraction, error) {
			return &domain.TextExtraction{Text: "Acme Dark Chocolate Bar", Confidence: 0.8}, nil
		},
	}
	tier := NewVisualTextTier(vision, repo)
	scratch := &TierScratch{}

	res, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, scratch)
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	// A perfect match cannot lift confidence above the extraction quality.
	if res.Confidence > 0.8+1e-9 {
		t.Errorf("confidence = %v, want <= extraction confidence 0.8", res.Confidence)
	}
	if res.Confidence < 0.7 {
		t.Errorf("confidence = %v, unexpectedly low for a near-exact match", res.Confidence)
	}
	if scratch.ExtractedText != "Acme Dark Chocolate Bar" || scratch.ExtractionConfidence != 0.8 {
		t.Errorf("scratch not populated: %+v", scratch)
	}
}

func TestVisualTextTier_NoMatchIsNotFound(t *testing.T) {
	vision := &mockVision{
		extractFn: func(context.Context, []byte) (*domain.TextExtraction, error) {
			return &domain.TextExtraction{Text: "mystery granola clusters", Confidence: 0.9}, nil
		},
	}
	tier := NewVisualTextTier(vision, newMockRepo())
	scratch := &TierScratch{}

	_, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, scratch)
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("error = %v, want ErrProductNotFound", err)
	}
	// The extraction still feeds tier 3 even when matching fails.
	if scratch.ExtractedText != "mystery granola clusters" {
		t.Errorf("scratch.ExtractedText = %q", scratch.ExtractedText)
	}
}

func TestVisualTextTier_EmptyExtractionIsNotFound(t *testing.T) {
	vision := &mockVision{
		extractFn: func(context.Context, []byte) (*domain.TextExtraction, error) {
			return &domain.TextExtraction{Text: "", Confidence: 0.1}, nil
		},
	}
	tier := NewVisualTextTier(vision, newMockRepo())

	_, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("error = %v, want ErrProductNotFound", err)
	}
}

func TestDiscoveryTier_KnownBarcodeShortCircuits(t *testing.T) {
	repo := newMockRepo()
	repo.seed(domain.ProductIdentity{ID: "prod-9", Barcode: "5000112345", Name: "Known Thing"})
	discovery := &mockDiscovery{
		findFn: func(context.Context, domain.DiscoveryQuery) (*domain.DiscoveryHit, error) {
			return &domain.DiscoveryHit{Barcode: "5000112345", Confidence: 0.75}, nil
		},
	}
	committer, _ := newTestCommitter(repo, newStubDocs(), &captureSink{})
	tier := NewDiscoveryTier(discovery, repo, committer)

	res, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{ExtractedText: "known thing"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if res.Identity.ID != "prod-9" {
		t.Errorf("identity = %+v, want the existing row", res.Identity)
	}
	if repo.saves() != 0 {
		t.Errorf("repo saves = %d, want 0 when the barcode is already on record", repo.saves())
	}
}

func TestDiscoveryTier_PersistsDiscoveredIdentity(t *testing.T) {
	repo := newMockRepo()
	docs := newStubDocs()
	discovery := &mockDiscovery{
		findFn: func(_ context.Context, query domain.DiscoveryQuery) (*domain.DiscoveryHit, error) {
			if query.Text == "" {
				t.Error("discovery query carries no text")
			}
			return &domain.DiscoveryHit{Barcode: "5000112345", SourceURL: "https://example.com/item", Confidence: 0.65}, nil
		},
	}
	committer, cache := newTestCommitter(repo, docs, &captureSink{})
	tier := NewDiscoveryTier(discovery, repo, committer)
	ctx := context.Background()

	res, err := tier.Attempt(ctx, &domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{ExtractedText: "mystery granola"})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if res.Identity.ID == "" || res.Identity.Barcode != "5000112345" {
		t.Errorf("identity = %+v", res.Identity)
	}
	if res.Identity.Metadata["discoverySource"] != "https://example.com/item" {
		t.Errorf("metadata = %v", res.Identity.Metadata)
	}
	if repo.saves() != 1 {
		t.Errorf("repo saves = %d, want 1", repo.saves())
	}
	if _, found, _ := cache.Lookup(ctx, "5000112345"); !found {
		t.Error("discovered identity not cached under its barcode")
	}
}

func TestDiscoveryTier_NeedsExtractedText(t *testing.T) {
	committer, _ := newTestCommitter(newMockRepo(), newStubDocs(), &captureSink{})
	tier := NewDiscoveryTier(&mockDiscovery{}, newMockRepo(), committer)

	if tier.Applicable(&domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{}) {
		t.Error("tier 3 applicable without extracted text")
	}
	_, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{})
	if !errors.Is(err, domain.ErrTierNotApplicable) {
		t.Errorf("error = %v, want ErrTierNotApplicable", err)
	}
}

func TestFullAnalysisTier_AlwaysAnswersAndInheritsBarcode(t *testing.T) {
	vision := &mockVision{
		identifyFn: func(context.Context, []byte) (*domain.VisualIdentification, error) {
			return &domain.VisualIdentification{
				Identity:   &domain.ProductIdentity{Name: "Mystery Granola", Brand: "Acme"},
				Confidence: 0.35,
			}, nil
		},
	}
	tier := NewFullAnalysisTier(vision)

	req := &domain.ResolutionRequest{Barcode: "0000000000", Image: []byte("img")}
	res, err := tier.Attempt(context.Background(), req, &TierScratch{})
	if err != nil {
		t.Fatalf("Attempt() error = %v", err)
	}
	if res.Confidence != 0.35 {
		t.Errorf("confidence = %v, want the analyzer's own 0.35", res.Confidence)
	}
	if res.Identity.Barcode != "0000000000" {
		t.Errorf("barcode = %q, want the request's barcode carried over", res.Identity.Barcode)
	}
}

func TestFullAnalysisTier_EmptyIdentityIsInvalidResponse(t *testing.T) {
	vision := &mockVision{
		identifyFn: func(context.Context, []byte) (*domain.VisualIdentification, error) {
			return &domain.VisualIdentification{Identity: &domain.ProductIdentity{}}, nil
		},
	}
	tier := NewFullAnalysisTier(vision)

	_, err := tier.Attempt(context.Background(), &domain.ResolutionRequest{Image: []byte("img")}, &TierScratch{})
	if !errors.Is(err, domain.ErrInvalidResponse) {
		t.Errorf("error = %v, want ErrInvalidResponse", err)
	}
}
