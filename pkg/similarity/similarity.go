// Package similarity provides text similarity scoring for article and
// cluster titles.
package similarity

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// MaxKeywords caps the number of keywords extracted per document. Titles and
// snippets are short; the first 20 surviving tokens carry the signal.
const MaxKeywords = 20

// minTokenLength is the shortest token kept by ExtractKeywords. Tokens of
// three characters or fewer are almost always noise in headlines.
const minTokenLength = 4

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "can": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "they": true, "them": true, "their": true,
	"said": true, "says": true, "after": true, "over": true, "under": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
}

// ExtractKeywords normalizes text to a keyword set: lowercase, punctuation
// stripped, tokens of length <= 3 and stop words dropped, capped to the
// first MaxKeywords surviving tokens.
func ExtractKeywords(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	keywords := make(map[string]bool)
	for _, word := range words {
		if len(word) < minTokenLength || stopWords[word] {
			continue
		}
		keywords[word] = true
		if len(keywords) >= MaxKeywords {
			break
		}
	}
	return keywords
}

// Jaccard calculates the Jaccard similarity between two keyword sets.
// Returns 0 when either set is empty: an empty document carries no evidence
// of overlap, so it must never clear a merge threshold.
func Jaccard(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	intersection := 0
	for term := range set1 {
		if set2[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

// KeywordOverlapScore scores two raw texts by Jaccard overlap of their
// extracted keyword sets. Symmetric, bounded to [0,1], and 1 for any
// non-empty text against itself.
func KeywordOverlapScore(a, b string) float64 {
	return Jaccard(ExtractKeywords(a), ExtractKeywords(b))
}

// Cosine calculates cosine similarity between two embedding vectors,
// clamped to [0,1] so the result is comparable against the same thresholds
// as keyword overlap. Returns 0 for mismatched or zero-length vectors.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0.0
	}

	normA := math.Sqrt(floats.Dot(a, a))
	normB := math.Sqrt(floats.Dot(b, b))
	if normA == 0 || normB == 0 {
		return 0.0
	}

	sim := floats.Dot(a, b) / (normA * normB)
	if sim < 0 {
		return 0.0
	}
	if sim > 1 {
		return 1.0
	}
	return sim
}
