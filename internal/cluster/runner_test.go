package cluster

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMatchGroupAndLeftover(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	existing := store.addCluster("Election results announced in country", now.Add(-6*time.Hour), now.Add(-5*time.Hour), now.Add(-5*time.Hour))

	matching := store.addArticle("reuters", "Country election results confirmed", now.Add(-2*time.Hour))
	floodA := store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-3*time.Hour))
	floodB := store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-2*time.Hour))
	loner := store.addArticle("bbc", "Unrelated sports recap", now.Add(-1*time.Hour))

	engine := NewEngine(store, store, nil, testConfig())

	report, err := engine.Run(context.Background(), 0, 0)
	require.NoError(t, err)

	assert.Equal(t, StrategyKeyword, report.Strategy)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 1, report.Leftover)
	assert.Empty(t, report.Errors)

	// The matching article joined the existing cluster.
	got, err := store.GetArticleByID(context.Background(), matching.ID)
	require.NoError(t, err)
	require.True(t, got.ClusterID.Valid)
	assert.Equal(t, existing.ID, got.ClusterID.String)

	// The existing cluster was re-aggregated from its membership.
	updated, err := store.GetClusterByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ArticleCount)
	assert.Equal(t, 1, updated.SourceCount)

	// The flood pair formed one new cluster.
	gotA, err := store.GetArticleByID(context.Background(), floodA.ID)
	require.NoError(t, err)
	gotB, err := store.GetArticleByID(context.Background(), floodB.ID)
	require.NoError(t, err)
	require.True(t, gotA.ClusterID.Valid)
	require.True(t, gotB.ClusterID.Valid)
	assert.Equal(t, gotA.ClusterID.String, gotB.ClusterID.String)
	assert.NotEqual(t, existing.ID, gotA.ClusterID.String)

	created, err := store.GetClusterByID(context.Background(), gotA.ClusterID.String)
	require.NoError(t, err)
	// Canonical title comes from the earlier flood article.
	assert.Equal(t, "Flooding displaces thousands in delta region", created.CanonicalTitle)
	assert.Equal(t, 2, created.ArticleCount)
	assert.Equal(t, 2, created.SourceCount)

	// The loner remains unclustered.
	gotLoner, err := store.GetArticleByID(context.Background(), loner.ID)
	require.NoError(t, err)
	assert.False(t, gotLoner.ClusterID.Valid)
}

func TestRunSingletonsStayUnclustered(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addArticle("reuters", "Volcano erupts on remote island", now.Add(-2*time.Hour))
	store.addArticle("ap", "Parliament passes budget amendment", now.Add(-1*time.Hour))

	engine := NewEngine(store, store, nil, testConfig())

	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Processed)
	assert.Equal(t, 2, report.Leftover)

	count, err := store.GetClusterCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunEmptyBatch(t *testing.T) {
	store := newFakeStore()
	engine := NewEngine(store, store, nil, testConfig())

	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.Leftover)
	assert.Equal(t, StrategyKeyword, report.Strategy)
}

func TestRunEmbeddingStrategy(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	a := store.addArticle("reuters", "first event report", now.Add(-2*time.Hour))
	b := store.addArticle("ap", "second event report", now.Add(-1*time.Hour))

	embedder := &fakeEmbedder{
		healthy: true,
		vectors: map[string][]float64{
			a.MatchText(): {1, 0, 0},
			b.MatchText(): {1, 0, 0},
		},
	}

	engine := NewEngine(store, store, embedder, testConfig())

	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	assert.Equal(t, StrategyEmbedding, report.Strategy)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Processed)
}

func TestRunEmbedFailureFallsBackToKeyword(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-2*time.Hour))
	store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-1*time.Hour))

	embedder := &fakeEmbedder{healthy: true, embedErr: errors.New("model not loaded")}
	engine := NewEngine(store, store, embedder, testConfig())

	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	// Healthy probe but failed preparation: the whole batch reruns on
	// keyword scoring, which still groups the flood pair.
	assert.Equal(t, StrategyKeyword, report.Strategy)
	assert.Equal(t, 1, report.Created)
	assert.Empty(t, report.Errors)
}

func TestRunUnhealthyServiceUsesKeyword(t *testing.T) {
	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	t.Cleanup(func() { log.Logger = prev })

	store := newFakeStore()
	now := time.Now()
	store.addArticle("ap", "Flooding displaces thousands in delta region", now)

	embedder := &fakeEmbedder{healthy: false, embedErr: errors.New("should not be called")}
	engine := NewEngine(store, store, embedder, testConfig())

	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)
	assert.Equal(t, StrategyKeyword, report.Strategy)

	// The degrade decision is made once per batch and logged once.
	assert.Equal(t, 1, strings.Count(logs.String(), "falling back to keyword scoring"))
}

func TestRunMatchesClustersByTitleOnly(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	existing := store.addCluster("Election results announced in country", now.Add(-6*time.Hour), now.Add(-5*time.Hour), now)

	// The snippet restates the cluster title but the headline is about
	// something else entirely.
	decoy := store.addArticle("reuters", "Morning briefing", now.Add(-2*time.Hour))
	decoy.Snippet = sql.NullString{String: "Election results announced in country", Valid: true}

	// A matching headline buried under an unrelated snippet.
	match := store.addArticle("ap", "Country election results confirmed", now.Add(-1*time.Hour))
	match.Snippet = sql.NullString{String: "Analysts weigh regional market reaction and weather disruptions", Valid: true}

	engine := NewEngine(store, store, nil, testConfig())

	report, err := engine.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	gotDecoy, err := store.GetArticleByID(context.Background(), decoy.ID)
	require.NoError(t, err)
	assert.False(t, gotDecoy.ClusterID.Valid)

	gotMatch, err := store.GetArticleByID(context.Background(), match.ID)
	require.NoError(t, err)
	require.True(t, gotMatch.ClusterID.Valid)
	assert.Equal(t, existing.ID, gotMatch.ClusterID.String)
}

func TestRunDatastoreFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.errUnclustered = errors.New("connection refused")

	engine := NewEngine(store, store, nil, testConfig())
	_, err := engine.Run(context.Background(), 7, 500)
	assert.ErrorContains(t, err, "connection refused")

	store = newFakeStore()
	store.addArticle("ap", "Some report", time.Now())
	store.errActive = errors.New("connection reset")

	engine = NewEngine(store, store, nil, testConfig())
	_, err = engine.Run(context.Background(), 7, 500)
	assert.ErrorContains(t, err, "connection reset")
}

func TestRunClusterUpdateFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addCluster("Election results announced in country", now.Add(-6*time.Hour), now.Add(-5*time.Hour), now)
	store.addArticle("reuters", "Country election results confirmed", now.Add(-2*time.Hour))
	store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-3*time.Hour))
	store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-2*time.Hour))

	store.errRecord = errors.New("deadlock detected")

	engine := NewEngine(store, store, nil, testConfig())
	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	// The failed cluster update is reported but the flood group still forms.
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "deadlock detected")
	assert.Zero(t, report.Updated)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Processed)
}

func TestRunPartialClusterCreation(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-3*time.Hour))
	store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-2*time.Hour))

	store.errAssignAfterInsert = errors.New("statement timeout")

	engine := NewEngine(store, store, nil, testConfig())
	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	// The cluster row exists even though linking failed, so it counts as
	// created and the failure is surfaced.
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "statement timeout")
	assert.Zero(t, report.Processed)
}

func TestRunInsertFailureIsIsolated(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-3*time.Hour))
	store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-2*time.Hour))

	store.errInsertOnce = errors.New("out of shared memory")

	engine := NewEngine(store, store, nil, testConfig())
	report, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "out of shared memory")
}

func TestRunNotifiesClusterSync(t *testing.T) {
	store := newFakeStore()
	now := time.Now()

	store.addArticle("ap", "Flooding displaces thousands in delta region", now.Add(-3*time.Hour))
	store.addArticle("afp", "Delta region flooding displaces thousands", now.Add(-2*time.Hour))

	engine := NewEngine(store, store, nil, testConfig())

	var synced []string
	engine.SetClusterSyncFunc(func(clusterID, title string) {
		synced = append(synced, title)
	})

	_, err := engine.Run(context.Background(), 7, 500)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	assert.Equal(t, "Flooding displaces thousands in delta region", synced[0])
}
