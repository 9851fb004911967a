package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shelfscan/backend/internal/domain"
)

// fencedJSONRegex captures the body of a ```json ... ``` (or bare ```) block.
var fencedJSONRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// dimensionPayload is the wire shape the vision model is asked to produce.
// Scores arrive as JSON numbers; validation decides whether they are usable.
type dimensionPayload struct {
	Dimensions        map[string]dimensionScorePayload `json:"dimensions"`
	OverallConfidence *float64                         `json:"overallConfidence"`
}

type dimensionScorePayload struct {
	Score       *float64 `json:"score"`
	Explanation string   `json:"explanation"`
	KeyFactors  []string `json:"keyFactors"`
}

// ParsedDimensions is the tagged result of the parse stage: either a payload
// or a reason, never a bare exception path.
type ParsedDimensions struct {
	OK     bool
	Value  dimensionPayload
	Reason string
}

// ParseDimensionResponse pulls the JSON payload out of raw model output. The
// model is told to answer with plain JSON but routinely wraps it in a
// markdown code fence, so the fenced block is tried first and the first
// top-level {...} span is the fallback.
func ParseDimensionResponse(raw string) ParsedDimensions {
	candidate := ""
	if m := fencedJSONRegex.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	} else {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start >= 0 && end > start {
			candidate = raw[start : end+1]
		}
	}
	if candidate == "" {
		return ParsedDimensions{Reason: "no JSON object in response"}
	}

	var payload dimensionPayload
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return ParsedDimensions{Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	if payload.Dimensions == nil {
		return ParsedDimensions{Reason: "missing dimensions field"}
	}
	if payload.OverallConfidence == nil {
		return ParsedDimensions{Reason: "missing overallConfidence field"}
	}
	return ParsedDimensions{OK: true, Value: payload}
}

// ValidateDimensions converts a parsed payload into domain scores, enforcing
// the all-or-nothing contract: all five dimensions present, scores in
// [0,100], non-empty explanations and key factors, overall confidence in
// [0,1]. Any violation rejects the whole analysis.
func ValidateDimensions(payload dimensionPayload) (map[domain.DimensionName]domain.DimensionScore, float64, error) {
	if *payload.OverallConfidence < 0 || *payload.OverallConfidence > 1 {
		return nil, 0, fmt.Errorf("overallConfidence %v outside [0,1]: %w", *payload.OverallConfidence, domain.ErrAnalysisFailed)
	}

	scores := make(map[domain.DimensionName]domain.DimensionScore, len(domain.DimensionNames))
	for _, name := range domain.DimensionNames {
		raw, ok := payload.Dimensions[string(name)]
		if !ok {
			return nil, 0, fmt.Errorf("missing dimension %q: %w", name, domain.ErrAnalysisFailed)
		}
		if raw.Score == nil || *raw.Score < 0 || *raw.Score > 100 {
			return nil, 0, fmt.Errorf("dimension %q score outside [0,100]: %w", name, domain.ErrAnalysisFailed)
		}
		if strings.TrimSpace(raw.Explanation) == "" {
			return nil, 0, fmt.Errorf("dimension %q has empty explanation: %w", name, domain.ErrAnalysisFailed)
		}
		if len(raw.KeyFactors) == 0 {
			return nil, 0, fmt.Errorf("dimension %q has no key factors: %w", name, domain.ErrAnalysisFailed)
		}
		for _, factor := range raw.KeyFactors {
			if strings.TrimSpace(factor) == "" {
				return nil, 0, fmt.Errorf("dimension %q has blank key factor: %w", name, domain.ErrAnalysisFailed)
			}
		}
		scores[name] = domain.DimensionScore{
			Score:       int(math.Round(*raw.Score)),
			Explanation: raw.Explanation,
			KeyFactors:  raw.KeyFactors,
		}
	}
	return scores, *payload.OverallConfidence, nil
}
