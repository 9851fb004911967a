package http

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
	"github.com/shelfscan/backend/internal/progress"
	"github.com/shelfscan/backend/internal/usecase"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator *usecase.Orchestrator
	analyzer     *usecase.DimensionAnalyzer
	identities   *usecase.IdentityCache
	dimensions   *usecase.DimensionCache
	progress     *progress.Manager
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(
	orchestrator *usecase.Orchestrator,
	analyzer *usecase.DimensionAnalyzer,
	identities *usecase.IdentityCache,
	dimensions *usecase.DimensionCache,
	progressManager *progress.Manager,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		orchestrator: orchestrator,
		analyzer:     analyzer,
		identities:   identities,
		dimensions:   dimensions,
		progress:     progressManager,
		logger:       logger,
	}
}

// HealthCheck returns the health status of the API.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "shelfscan-backend",
		"version": "1.0.0",
	})
}

type resolveRequest struct {
	Barcode   string `json:"barcode"`
	Image     string `json:"image"` // base64-encoded
	SessionID string `json:"sessionId"`
}

type resolutionOutcome struct {
	Success   bool                     `json:"success"`
	SessionID string                   `json:"sessionId"`
	Result    *domain.ResolutionResult `json:"result,omitempty"`
	Error     *outcomeError            `json:"error,omitempty"`
}

type outcomeError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Resolve runs the multi-tier resolution for a barcode and/or image.
func (h *Handler) Resolve(c *gin.Context) {
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	req := &domain.ResolutionRequest{
		Barcode:   body.Barcode,
		SessionID: body.SessionID,
	}
	if body.Image != "" {
		image, err := base64.StdEncoding.DecodeString(body.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64-encoded"})
			return
		}
		req.Image = image
	}

	result, err := h.orchestrator.Resolve(c.Request.Context(), req)
	if err != nil {
		h.logger.Info("resolution failed",
			zap.String("session_id", req.SessionID),
			zap.String("code", domain.ErrorCode(err)),
			zap.Error(err))
		c.JSON(statusForError(err), resolutionOutcome{
			SessionID: req.SessionID,
			Error: &outcomeError{
				Code:      domain.ErrorCode(err),
				Message:   err.Error(),
				Retryable: domain.Retryable(err),
			},
		})
		return
	}

	c.JSON(http.StatusOK, resolutionOutcome{
		Success:   true,
		SessionID: req.SessionID,
		Result:    result,
	})
}

type dimensionRequest struct {
	Context string `json:"context"`
	Image   string `json:"image"` // base64-encoded
}

// AnalyzeDimensions returns the five-dimension analysis for a product.
func (h *Handler) AnalyzeDimensions(c *gin.Context) {
	productID := c.Param("id")

	var body dimensionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var image []byte
	if body.Image != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.Image)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64-encoded"})
			return
		}
		image = decoded
	}

	outcome, err := h.analyzer.Analyze(c.Request.Context(), productID, body.Context, image)
	if err != nil {
		c.JSON(statusForError(err), gin.H{
			"error": outcomeError{
				Code:      domain.ErrorCode(err),
				Message:   err.Error(),
				Retryable: domain.Retryable(err),
			},
		})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// InvalidateIdentity drops one identity cache entry, e.g. after a reported
// misidentification.
func (h *Handler) InvalidateIdentity(c *gin.Context) {
	key := c.Param("key")
	if err := h.identities.Invalidate(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// InvalidateDimensions drops the dimension analysis for one product, or all
// of them with ?all=true.
func (h *Handler) InvalidateDimensions(c *gin.Context) {
	if c.Query("all") == "true" {
		if err := h.dimensions.InvalidateAll(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	productID := c.Param("productId")
	if err := h.dimensions.Invalidate(c.Request.Context(), productID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalidation failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ProgressSnapshot is the polling transport for progress events.
func (h *Handler) ProgressSnapshot(c *gin.Context) {
	snapshot, err := h.progress.Snapshot(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAnalysisTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidResponse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
