package domain

import "time"

// DimensionName is one of the five fixed product-quality axes.
type DimensionName string

const (
	DimensionHealth              DimensionName = "health"
	DimensionProcessing          DimensionName = "processing"
	DimensionAllergens           DimensionName = "allergens"
	DimensionResponsiblyProduced DimensionName = "responsiblyProduced"
	DimensionEnvironmentalImpact DimensionName = "environmentalImpact"
)

// DimensionNames lists the required dimensions in canonical order.
var DimensionNames = []DimensionName{
	DimensionHealth,
	DimensionProcessing,
	DimensionAllergens,
	DimensionResponsiblyProduced,
	DimensionEnvironmentalImpact,
}

// DimensionScore is one axis of a dimension analysis.
type DimensionScore struct {
	Score       int      `json:"score"` // 0-100
	Explanation string   `json:"explanation"`
	KeyFactors  []string `json:"keyFactors"`
}

// DimensionAnalysis scores a product across all five dimensions.
// Either all five dimensions are present and valid or the analysis is
// rejected as a whole.
type DimensionAnalysis struct {
	ProductID         string                           `json:"productId"`
	Dimensions        map[DimensionName]DimensionScore `json:"dimensions"`
	OverallConfidence float64                          `json:"overallConfidence"`
	AnalyzedAt        time.Time                        `json:"analyzedAt"`
	Cached            bool                             `json:"cached"`
}

// DimensionCacheTTL is how long a stored analysis stays servable.
const DimensionCacheTTL = 30 * 24 * time.Hour

// DimensionCacheEntry wraps an analysis with access-time bookkeeping.
// ExpiresAt is fixed at AnalyzedAt + DimensionCacheTTL; reads refresh
// LastAccessedAt but never extend ExpiresAt.
type DimensionCacheEntry struct {
	Analysis       DimensionAnalysis `json:"analysis"`
	LastAccessedAt time.Time         `json:"lastAccessedAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e *DimensionCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
