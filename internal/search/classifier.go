// Package search implements the query strategy engine (component C6) and
// the search executor / result processor (component C7): deterministic
// query classification and planning, concurrent keyword+vector dispatch,
// score fusion, and result post-processing (snippets, optional rerank and
// diversity, pagination).
package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ciphermesh/hyperia/internal/domain"
)

// stopWords is the set used for the stop-word-ratio feature. It is
// deliberately small and English-centric; a larger or localised list is a
// configuration concern, not a classifier one.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "and": true, "or": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "with": true, "at": true, "by": true,
	"it": true, "this": true, "that": true, "as": true, "from": true,
}

var questionWords = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "does": true, "do": true, "is": true,
}

var transactionalVerbs = map[string]bool{
	"buy": true, "download": true, "purchase": true, "order": true,
	"install": true, "subscribe": true, "signup": true,
}

var (
	booleanOpPattern = regexp.MustCompile(`(?i)\b(AND|OR|NOT)\b`)
	upperBooleanOp   = regexp.MustCompile(`\b(AND|OR|NOT)\b`)
	wildcardPattern  = regexp.MustCompile(`[*?]`)
	digitPattern     = regexp.MustCompile(`[0-9]`)
	urlPattern       = regexp.MustCompile(`(?i)^https?://|\bsite:`)
	specialCharRe    = regexp.MustCompile(`[^\w\s]`)
)

// Normalise lowercases and collapses whitespace, the same normalisation
// every feature and the cache key derive from.
func Normalise(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// ExtractFeatures computes the cheap, embedding-free signals spec §4.6
// names: word count, average word length, quotes, boolean operators,
// wildcards, digits, special characters, question words, stop-word ratio.
func ExtractFeatures(normalised string) domain.QueryFeatures {
	words := strings.Fields(normalised)
	f := domain.QueryFeatures{WordCount: len(words)}
	if len(words) == 0 {
		return f
	}

	var totalLen, stopCount int
	for _, w := range words {
		totalLen += len([]rune(w))
		trimmed := strings.Trim(w, `"'.,!?;:`)
		if stopWords[trimmed] {
			stopCount++
		}
		if questionWords[trimmed] {
			f.HasQuestionWords = true
		}
	}
	f.AvgWordLength = float64(totalLen) / float64(len(words))
	f.StopWordRatio = float64(stopCount) / float64(len(words))
	f.HasQuotes = strings.ContainsAny(normalised, `"'`)
	f.HasBooleanOps = booleanOpPattern.MatchString(normalised)
	f.HasWildcards = wildcardPattern.MatchString(normalised)
	f.HasNumbers = digitPattern.MatchString(normalised)
	f.HasSpecialChars = specialCharRe.MatchString(stripWordChars(normalised))
	return f
}

// stripWordChars removes spaces so specialCharRe only sees punctuation that
// survives Normalise's whitespace collapsing.
func stripWordChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ClassifyIntent applies the spec §4.6 intent heuristics in order:
// question-word prefix, URL-like/site-operator, transactional verbs,
// otherwise a generic search.
func ClassifyIntent(normalised string, f domain.QueryFeatures) domain.QueryIntent {
	words := strings.Fields(normalised)
	if len(words) > 0 && questionWords[strings.Trim(words[0], `"'.,!?;:`)] {
		return domain.IntentQuestion
	}
	if urlPattern.MatchString(normalised) {
		return domain.IntentNavigational
	}
	for _, w := range words {
		if transactionalVerbs[strings.Trim(w, `"'.,!?;:`)] {
			return domain.IntentTransactional
		}
	}
	return domain.IntentSearch
}

// ClassifyComplexity derives a coarse complexity signal from word count and
// the presence of structural operators. It does not consult the spec's
// strategy rules; it only feeds into the debug trail and may widen the
// performance budget downstream.
func ClassifyComplexity(f domain.QueryFeatures) domain.QueryComplexity {
	switch {
	case f.WordCount <= 2 && !f.HasBooleanOps && !f.HasWildcards:
		return domain.ComplexityLow
	case f.WordCount > 8 || f.HasBooleanOps || f.HasWildcards:
		return domain.ComplexityHigh
	default:
		return domain.ComplexityMedium
	}
}

// Analyse runs the full C6 classification pass over a raw query string.
// The Strategy/FiredRule fields are left zero; Plan fills them in — it
// needs IndexAvailability, which Analyse deliberately does not take so the
// feature extraction stays pure and embedding-free.
func Analyse(query string) domain.QueryAnalysis {
	normalised := Normalise(query)
	features := ExtractFeatures(normalised)
	// Normalise lowercases, so operators are detected on the raw query,
	// where only uppercase AND/OR/NOT count; a lowercase "and" is prose.
	features.HasBooleanOps = upperBooleanOp.MatchString(query)
	return domain.QueryAnalysis{
		Original:   query,
		Normalised: normalised,
		Length:     len([]rune(query)),
		WordCount:  features.WordCount,
		Features:   features,
		Intent:     ClassifyIntent(normalised, features),
		Complexity: ClassifyComplexity(features),
	}
}
