package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

// Client implements the web discovery search over an HTTP lookup service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// Config holds discovery service settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// NewClient creates a discovery search client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}
}

// FindBarcode looks for a plausible barcode for the partially known product.
func (c *Client) FindBarcode(ctx context.Context, query domain.DiscoveryQuery) (*domain.DiscoveryHit, error) {
	if query.Text == "" && query.Brand == "" {
		return nil, domain.ErrInvalidRequest
	}

	params := url.Values{}
	params.Set("text", query.Text)
	if query.Brand != "" {
		params.Set("brand", query.Brand)
	}
	reqURL := fmt.Sprintf("%s/v1/discovery/barcode?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("User-Agent", "ShelfScan/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapTransient("discovery request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapTransient("read discovery response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("discovery found nothing for %q: %w", query.Text, domain.ErrProductNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("discovery service error", zap.Int("status", resp.StatusCode))
		return nil, domain.WrapTransient("discovery service", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("discovery rejected request (status %d): %w", resp.StatusCode, domain.ErrValidation)
	}

	var payload struct {
		Found      bool    `json:"found"`
		Barcode    string  `json:"barcode"`
		SourceURL  string  `json:"sourceUrl"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode discovery response: %w: %v", domain.ErrInvalidResponse, err)
	}
	if !payload.Found || payload.Barcode == "" {
		return nil, fmt.Errorf("discovery found nothing for %q: %w", query.Text, domain.ErrProductNotFound)
	}

	return &domain.DiscoveryHit{
		Barcode:    payload.Barcode,
		SourceURL:  payload.SourceURL,
		Confidence: payload.Confidence,
	}, nil
}
