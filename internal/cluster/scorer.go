// Package cluster implements the article clustering pipeline: similarity
// scoring, matching against existing clusters, new cluster formation,
// field aggregation, and cluster repair.
package cluster

import (
	"context"
	"fmt"

	"github.com/thebtf/sitrep/pkg/similarity"
)

// Strategy names reported in batch results.
const (
	StrategyKeyword   = "keyword"
	StrategyEmbedding = "embedding"
)

// Document is a unit of text to be scored: an article's title or full
// match text, or a cluster's canonical title, keyed by a document ID.
type Document struct {
	ID   string
	Text string
}

// Scorer computes pairwise similarity between prepared documents. Scores
// are in [0,1] with higher meaning more similar. Score returns 0 for any
// ID that was not prepared.
type Scorer interface {
	Name() string
	Prepare(ctx context.Context, docs []Document) error
	Score(aID, bID string) float64
}

// Embedder provides sentence embeddings from the ML clustering service.
type Embedder interface {
	Healthy(ctx context.Context) bool
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// KeywordScorer scores documents by Jaccard overlap of extracted keyword
// sets. It needs no external service and is the fallback strategy.
type KeywordScorer struct {
	keywords map[string]map[string]bool
}

// NewKeywordScorer creates an unprepared keyword scorer.
func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{}
}

// Name implements Scorer.
func (s *KeywordScorer) Name() string { return StrategyKeyword }

// Prepare extracts keyword sets for all documents. Never fails.
func (s *KeywordScorer) Prepare(_ context.Context, docs []Document) error {
	s.keywords = make(map[string]map[string]bool, len(docs))
	for _, doc := range docs {
		s.keywords[doc.ID] = similarity.ExtractKeywords(doc.Text)
	}
	return nil
}

// Score implements Scorer.
func (s *KeywordScorer) Score(aID, bID string) float64 {
	a, ok := s.keywords[aID]
	if !ok {
		return 0
	}
	b, ok := s.keywords[bID]
	if !ok {
		return 0
	}
	return similarity.Jaccard(a, b)
}

// EmbeddingScorer scores documents by cosine similarity of their sentence
// embeddings, fetched in one batch during Prepare.
type EmbeddingScorer struct {
	embedder   Embedder
	embeddings map[string][]float64
}

// NewEmbeddingScorer creates an unprepared embedding scorer.
func NewEmbeddingScorer(embedder Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder}
}

// Name implements Scorer.
func (s *EmbeddingScorer) Name() string { return StrategyEmbedding }

// Prepare embeds every document text in a single request. On failure the
// caller falls back to the keyword strategy for the whole batch.
func (s *EmbeddingScorer) Prepare(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		s.embeddings = map[string][]float64{}
		return nil
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d documents: %w", len(docs), err)
	}

	s.embeddings = make(map[string][]float64, len(docs))
	for i, doc := range docs {
		s.embeddings[doc.ID] = vectors[i]
	}
	return nil
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(aID, bID string) float64 {
	a, ok := s.embeddings[aID]
	if !ok {
		return 0
	}
	b, ok := s.embeddings[bID]
	if !ok {
		return 0
	}
	return similarity.Cosine(a, b)
}
