package domain

import "time"

// ProductIdentity is the canonical description of a physical retail product.
// ID is assigned by the relational repository and immutable afterwards;
// Barcode is unique when present.
type ProductIdentity struct {
	ID       string         `json:"id"`
	Barcode  string         `json:"barcode,omitempty"`
	Name     string         `json:"name"`
	Brand    string         `json:"brand,omitempty"`
	Category string         `json:"category,omitempty"`
	Size     string         `json:"size,omitempty"`
	ImageURL string         `json:"imageUrl,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ResolutionRequest carries the inputs for one identity resolution.
// At least one of Barcode or Image must be set.
type ResolutionRequest struct {
	Barcode   string `json:"barcode,omitempty"`
	Image     []byte `json:"-"`
	SessionID string `json:"sessionId,omitempty"`
}

// HasBarcode reports whether the request carries a non-empty barcode.
func (r *ResolutionRequest) HasBarcode() bool { return r.Barcode != "" }

// HasImage reports whether the request carries image bytes.
func (r *ResolutionRequest) HasImage() bool { return len(r.Image) > 0 }

// Tier identifies one of the four resolution strategies, cheapest first.
type Tier int

const (
	TierDirectBarcode  Tier = 1
	TierVisualText     Tier = 2
	TierDiscovery      Tier = 3
	TierFullAIAnalysis Tier = 4
)

// String returns the progress-stage name for the tier.
func (t Tier) String() string {
	switch t {
	case TierDirectBarcode:
		return "tier_1_barcode"
	case TierVisualText:
		return "tier_2_visual_text"
	case TierDiscovery:
		return "tier_3_discovery"
	case TierFullAIAnalysis:
		return "tier_4_full_analysis"
	default:
		return "tier_unknown"
	}
}

// ResolutionResult is the transient outcome of a single resolution attempt.
// Only Identity plus the tier/confidence metadata are ever persisted.
type ResolutionResult struct {
	Identity   *ProductIdentity `json:"identity"`
	Tier       Tier             `json:"tier"`
	Confidence float64          `json:"confidence"`
	Cached     bool             `json:"cached"`
}

// IdentityCacheEntry is the identity-cache record for one key (normalized
// barcode or image fingerprint). Entries never expire on their own; they are
// overwritten on re-resolution and removed only by explicit invalidation.
type IdentityCacheEntry struct {
	Key        string           `json:"key"`
	Identity   *ProductIdentity `json:"identity"`
	Tier       Tier             `json:"tier"`
	Confidence float64          `json:"confidence"`
	StoredAt   time.Time        `json:"storedAt"`
}

// TextExtraction is the visual analyzer's read of visible packaging text.
type TextExtraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// VisualIdentification is the visual analyzer's full identity guess.
type VisualIdentification struct {
	Identity   *ProductIdentity `json:"identity"`
	Confidence float64          `json:"confidence"`
}

// DiscoveryQuery describes what the web discovery search has to work with.
type DiscoveryQuery struct {
	Text  string `json:"text,omitempty"`
	Brand string `json:"brand,omitempty"`
}

// DiscoveryHit is a plausible barcode found by web discovery.
type DiscoveryHit struct {
	Barcode    string  `json:"barcode"`
	SourceURL  string  `json:"sourceUrl,omitempty"`
	Confidence float64 `json:"confidence"`
}
