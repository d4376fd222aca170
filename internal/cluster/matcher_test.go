package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/sitrep/pkg/models"
)

func preparedKeywordScorer(t *testing.T, docs []Document) *KeywordScorer {
	t.Helper()
	scorer := NewKeywordScorer()
	require.NoError(t, scorer.Prepare(context.Background(), docs))
	return scorer
}

func TestBestMatch(t *testing.T) {
	now := time.Now()
	close := &models.Cluster{ID: "close", CanonicalTitle: "Election results announced in country", UpdatedAt: now}
	far := &models.Cluster{ID: "far", CanonicalTitle: "Stock markets rally on trade deal", UpdatedAt: now.Add(-time.Hour)}

	scorer := preparedKeywordScorer(t, []Document{
		{ID: "article", Text: "Country election results confirmed"},
		{ID: close.ID, Text: close.CanonicalTitle},
		{ID: far.ID, Text: far.CanonicalTitle},
	})

	best, score, ok := BestMatch(scorer, "article", []*models.Cluster{far, close}, 0.5)
	require.True(t, ok)
	assert.Equal(t, "close", best.ID)
	assert.Greater(t, score, 0.5)
}

func TestBestMatchBelowThreshold(t *testing.T) {
	candidate := &models.Cluster{ID: "c1", CanonicalTitle: "Stock markets rally on trade deal"}

	scorer := preparedKeywordScorer(t, []Document{
		{ID: "article", Text: "Flooding displaces thousands"},
		{ID: candidate.ID, Text: candidate.CanonicalTitle},
	})

	_, _, ok := BestMatch(scorer, "article", []*models.Cluster{candidate}, 0.6)
	assert.False(t, ok)
}

func TestBestMatchNoCandidates(t *testing.T) {
	scorer := preparedKeywordScorer(t, []Document{{ID: "article", Text: "anything"}})
	_, _, ok := BestMatch(scorer, "article", nil, 0.1)
	assert.False(t, ok)
}

func TestBestMatchTiePrefersFresherCluster(t *testing.T) {
	now := time.Now()
	// Identical titles, so scores tie exactly. Candidates arrive most
	// recently updated first and the fresher one must win.
	fresh := &models.Cluster{ID: "fresh", CanonicalTitle: "Wildfire spreads across northern region", UpdatedAt: now}
	stale := &models.Cluster{ID: "stale", CanonicalTitle: "Wildfire spreads across northern region", UpdatedAt: now.Add(-2 * time.Hour)}

	scorer := preparedKeywordScorer(t, []Document{
		{ID: "article", Text: "Northern region wildfire spreads"},
		{ID: fresh.ID, Text: fresh.CanonicalTitle},
		{ID: stale.ID, Text: stale.CanonicalTitle},
	})

	best, _, ok := BestMatch(scorer, "article", []*models.Cluster{fresh, stale}, 0.1)
	require.True(t, ok)
	assert.Equal(t, "fresh", best.ID)
}
