package domain

import (
	"context"
	"time"
)

// DocumentCache is a byte-valued key/value store with optional expiry.
// The identity cache and the dimension cache use separate key namespaces on
// top of the same port. A ttl of zero means the entry never expires.
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ProductRepository is the durable system of record for product identity.
type ProductRepository interface {
	FindByBarcode(ctx context.Context, barcode string) (*ProductIdentity, error)
	FindByText(ctx context.Context, query string) ([]ProductIdentity, error)
	Save(ctx context.Context, identity *ProductIdentity) (*ProductIdentity, error)
}

// VisualAnalyzer is the AI vision capability consumed by tiers 2/4 and the
// dimension analyzer. AnalyzeDimensions returns the model's raw text; parsing
// and validation are the caller's problem.
type VisualAnalyzer interface {
	ExtractText(ctx context.Context, image []byte) (*TextExtraction, error)
	IdentifyProduct(ctx context.Context, image []byte) (*VisualIdentification, error)
	AnalyzeDimensions(ctx context.Context, image []byte, productContext string) (string, error)
}

// WebDiscoverySearch finds a plausible barcode for a partially known product.
// Returns ErrProductNotFound when nothing plausible exists.
type WebDiscoverySearch interface {
	FindBarcode(ctx context.Context, query DiscoveryQuery) (*DiscoveryHit, error)
}

// SinkEvent is a fire-and-forget observability record.
type SinkEvent struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"sessionId,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives observability events. Implementations must never let a
// recording failure propagate into resolution outcomes.
type EventSink interface {
	Record(event SinkEvent)
}
