package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfscan/backend/internal/domain"
)

// Client talks to the vision model service over HTTP. It implements the
// VisualAnalyzer port; retries live in the resilience executor above it, so
// each method here is a single attempt.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// Config holds vision service settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// RequestsPerSecond throttles outbound calls; the model endpoint is the
	// most expensive dependency in the system.
	RequestsPerSecond float64
	Burst             int
}

// NewClient creates a vision service client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:      logger,
	}
}

type visionRequest struct {
	Image   string `json:"image"` // base64-encoded
	Context string `json:"context,omitempty"`
}

// ExtractText reads visible packaging text off the image.
func (c *Client) ExtractText(ctx context.Context, image []byte) (*domain.TextExtraction, error) {
	var resp struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.post(ctx, "/v1/vision/extract-text", visionRequest{Image: encode(image)}, &resp); err != nil {
		return nil, err
	}
	return &domain.TextExtraction{Text: resp.Text, Confidence: resp.Confidence}, nil
}

// IdentifyProduct asks the model for a complete identity guess.
func (c *Client) IdentifyProduct(ctx context.Context, image []byte) (*domain.VisualIdentification, error) {
	var resp struct {
		Name       string  `json:"name"`
		Brand      string  `json:"brand"`
		Category   string  `json:"category"`
		Size       string  `json:"size"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.post(ctx, "/v1/vision/identify", visionRequest{Image: encode(image)}, &resp); err != nil {
		return nil, err
	}
	return &domain.VisualIdentification{
		Identity: &domain.ProductIdentity{
			Name:     resp.Name,
			Brand:    resp.Brand,
			Category: resp.Category,
			Size:     resp.Size,
		},
		Confidence: resp.Confidence,
	}, nil
}

// AnalyzeDimensions returns the model's raw dimension-scoring text. The
// caller parses and validates it; models wrap JSON in prose often enough
// that salvage is not this client's business.
func (c *Client) AnalyzeDimensions(ctx context.Context, image []byte, productContext string) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/v1/vision/dimensions", visionRequest{Image: encode(image), Context: productContext}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return domain.WrapTransient("vision rate limiter", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ShelfScan/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapTransient("vision request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.WrapTransient("read vision response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("vision service error", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return domain.WrapTransient("vision service", fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("vision service rejected request (status %d): %w", resp.StatusCode, domain.ErrValidation)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode vision response: %w: %v", domain.ErrInvalidResponse, err)
	}
	return nil
}

func encode(image []byte) string {
	return base64.StdEncoding.EncodeToString(image)
}
