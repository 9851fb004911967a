package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when an identity is genuinely absent
	// after every tier that can answer not-found has been exhausted.
	ErrProductNotFound = errors.New("product not found")

	// ErrTransient marks network/timeout failures; drives tier fallthrough
	// and retry-with-backoff.
	ErrTransient = errors.New("transient failure")

	// ErrValidation marks malformed input or a malformed AI/search response;
	// fatal for the current attempt, never retried within the same call.
	ErrValidation = errors.New("validation failure")

	// ErrDataConsistency marks a failed compensating rollback; always
	// surfaced to the event sink, never retried automatically.
	ErrDataConsistency = errors.New("data consistency fault")

	// ErrResourceExhausted is returned when session or concurrency limits
	// are exceeded; callers may retry later.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidRequest is returned when request parameters are invalid.
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrCacheMiss is returned when a key is not found in a document cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidResponse is returned when an AI response cannot be parsed
	// into the expected payload shape.
	ErrInvalidResponse = errors.New("invalid AI response")

	// ErrAnalysisFailed is returned when a parsed dimension analysis fails
	// validation; retryable by the caller.
	ErrAnalysisFailed = errors.New("AI analysis failed")

	// ErrAnalysisTimeout is returned when a dimension analysis exceeds its
	// deadline while retries are still in flight.
	ErrAnalysisTimeout = errors.New("analysis timed out")

	// ErrTierNotApplicable signals that a tier cannot run for the given
	// request (e.g. no image); never surfaced to callers.
	ErrTierNotApplicable = errors.New("tier not applicable")
)

// WrapTransient tags err as transient while preserving its chain.
func WrapTransient(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, ErrTransient, err)
}

// Retryable reports whether err may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, ErrAnalysisFailed) ||
		errors.Is(err, ErrAnalysisTimeout)
}

// Fatal reports whether err must abort the whole resolution instead of
// falling through to the next tier.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTierNotApplicable) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrProductNotFound) {
		return false
	}
	return true
}

// ErrorCode maps err onto the wire-level taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAnalysisTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrTransient):
		return "TRANSIENT"
	case errors.Is(err, ErrDataConsistency):
		return "DATA_CONSISTENCY"
	case errors.Is(err, ErrResourceExhausted):
		return "RESOURCE_EXHAUSTED"
	case errors.Is(err, ErrInvalidResponse):
		return "INVALID_RESPONSE"
	case errors.Is(err, ErrAnalysisFailed):
		return "AI_ANALYSIS_FAILED"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidRequest):
		return "VALIDATION"
	default:
		return "INTERNAL"
	}
}
