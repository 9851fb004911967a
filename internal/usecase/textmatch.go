package usecase

import (
	"regexp"
	"strings"

	"github.com/shelfscan/backend/internal/domain"
)

// Package-level compiled regex patterns for performance
var (
	punctuationRegex    = regexp.MustCompile(`[^\w\s]`)
	multipleSpacesRegex = regexp.MustCompile(`\s+`)
	sizePatternRegex    = regexp.MustCompile(
		`(?i)\b\d+\.?\d*\s*(?:fl\s*oz|oz|ml|liters?|l|gallons?|gal|lbs?|pounds?|kg|grams?|g|ct|count|pk|pack|ea|each|qt|quart|pt|pint)\b`,
	)
)

// extendedStopWords includes basic English stop words plus retail noise that
// adds nothing to a product match.
var extendedStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "is": true,
	// Size/quantity units
	"oz": true, "fl": true, "lb": true, "lbs": true, "ml": true,
	"gallon": true, "quart": true, "pint": true, "liter": true, "liters": true,
	"gram": true, "grams": true, "kg": true, "ounce": true, "ounces": true,
	// Packaging terms
	"pack": true, "packs": true, "count": true, "ct": true, "pk": true,
	"box": true, "bag": true, "bottle": true, "bottles": true, "can": true,
	"cans": true, "carton": true, "container": true, "pouch": true, "jar": true,
	// Marketing/generic terms
	"size": true, "value": true, "family": true, "each": true, "per": true,
	"bonus": true, "new": true, "improved": true, "product": true,
}

// TextMatcher scores extracted packaging text against repository candidates.
type TextMatcher struct{}

// NewTextMatcher creates a text matcher.
func NewTextMatcher() *TextMatcher { return &TextMatcher{} }

// BestMatch returns the highest-scoring candidate and its match quality in
// [0,1], or (nil, 0) when no candidate shares a single token with the query.
func (m *TextMatcher) BestMatch(query, brand string, candidates []domain.ProductIdentity) (*domain.ProductIdentity, float64) {
	if query == "" || len(candidates) == 0 {
		return nil, 0
	}

	var best *domain.ProductIdentity
	highest := 0.0
	for i := range candidates {
		score := m.score(query, brand, &candidates[i])
		if score > highest {
			highest = score
			best = &candidates[i]
		}
	}
	return best, highest
}

// score computes similarity between the query text and one candidate using a
// weighted combination of token coverage in both directions plus brand and
// substring bonuses.
func (m *TextMatcher) score(query, brand string, candidate *domain.ProductIdentity) float64 {
	candidateText := candidate.Name
	if candidate.Brand != "" {
		candidateText = candidate.Brand + " " + candidateText
	}

	queryTokens := tokenize(cleanForMatching(query))
	candidateTokens := tokenize(candidateText)
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return 0
	}

	// Query coverage is the strongest signal: how much of what the analyzer
	// read off the packaging appears in the candidate.
	queryMatched := intersectionCount(queryTokens, candidateTokens)
	queryCoverage := float64(queryMatched) / float64(len(queryTokens))

	candidateMatched := intersectionCount(candidateTokens, queryTokens)
	candidateCoverage := float64(candidateMatched) / float64(len(candidateTokens))

	jaccard := float64(queryMatched) / float64(unionCount(queryTokens, candidateTokens))

	score := queryCoverage*0.60 + candidateCoverage*0.20 + jaccard*0.20

	queryLower := strings.ToLower(query)
	candidateLower := strings.ToLower(candidateText)

	if brand != "" && strings.Contains(candidateLower, strings.ToLower(brand)) {
		score += 0.15
	}
	if len(queryLower) > 3 && (strings.Contains(candidateLower, queryLower) || strings.Contains(queryLower, candidateLower)) {
		score += 0.10
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// cleanForMatching strips size patterns and collapses whitespace so packaging
// noise does not dilute token coverage.
func cleanForMatching(s string) string {
	if idx := strings.Index(s, ","); idx > 0 {
		s = s[:idx]
	}
	s = sizePatternRegex.ReplaceAllString(s, " ")
	s = multipleSpacesRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// tokenize splits a string into normalized lowercase tokens, dropping
// punctuation, stop words, and pure numeric tokens.
func tokenize(s string) []string {
	cleaned := punctuationRegex.ReplaceAllString(strings.ToLower(s), " ")
	words := strings.Fields(cleaned)

	var tokens []string
	for _, word := range words {
		if len(word) <= 1 {
			continue
		}
		if extendedStopWords[word] {
			continue
		}
		if isNumeric(word) {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

func intersectionCount(tokens1, tokens2 []string) int {
	set := make(map[string]bool, len(tokens1))
	for _, t := range tokens1 {
		set[t] = true
	}
	count := 0
	seen := make(map[string]bool)
	for _, t := range tokens2 {
		if set[t] && !seen[t] {
			count++
			seen[t] = true
		}
	}
	return count
}

func unionCount(tokens1, tokens2 []string) int {
	set := make(map[string]bool, len(tokens1)+len(tokens2))
	for _, t := range tokens1 {
		set[t] = true
	}
	for _, t := range tokens2 {
		set[t] = true
	}
	return len(set)
}
