package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/sitrep/internal/config"
	"github.com/thebtf/sitrep/internal/db"
	"github.com/thebtf/sitrep/pkg/models"
)

// ClusterSyncFunc is notified after a cluster is created or updated so the
// caller can refresh derived data (e.g. title embeddings). Runs best-effort
// outside the batch's error accounting.
type ClusterSyncFunc func(clusterID, canonicalTitle string)

// Engine runs the incremental clustering pipeline over the article store.
type Engine struct {
	articles db.ArticleStore
	clusters db.ClusterStore
	embedder Embedder
	syncFunc ClusterSyncFunc
	cfg      *config.Config
	now      func() time.Time
}

// NewEngine creates a clustering engine. embedder may be nil, which forces
// the keyword strategy for every batch.
func NewEngine(articles db.ArticleStore, clusters db.ClusterStore, embedder Embedder, cfg *config.Config) *Engine {
	return &Engine{
		articles: articles,
		clusters: clusters,
		embedder: embedder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClusterSyncFunc registers a callback invoked after cluster writes.
func (e *Engine) SetClusterSyncFunc(fn ClusterSyncFunc) {
	e.syncFunc = fn
}

// Run processes one clustering batch: unclustered articles from the last
// days are matched against active clusters, then the leftovers are grouped
// into new clusters. Zero days or limit fall back to the configured
// defaults.
//
// Only datastore unavailability fails the batch; per-cluster and per-group
// write failures are isolated and reported in BatchReport.Errors.
func (e *Engine) Run(ctx context.Context, days, limit int) (*models.BatchReport, error) {
	if days <= 0 {
		days = e.cfg.LookbackDays
	}
	if limit <= 0 {
		limit = e.cfg.BatchLimit
	}

	now := e.now()
	since := now.AddDate(0, 0, -days)
	report := &models.BatchReport{}

	articles, err := e.articles.GetUnclusteredArticles(ctx, since, limit)
	if err != nil {
		return nil, fmt.Errorf("load unclustered articles: %w", err)
	}
	if len(articles) == 0 {
		report.Strategy = StrategyKeyword
		log.Debug().Msg("No unclustered articles in window")
		return report, nil
	}

	candidates, err := e.clusters.GetActiveClustersSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load active clusters: %w", err)
	}

	docs := buildDocuments(articles, candidates)
	scorer := e.selectScorer(ctx, docs)
	report.Strategy = scorer.Name()

	log.Info().
		Int("articles", len(articles)).
		Int("candidates", len(candidates)).
		Str("strategy", report.Strategy).
		Msg("Clustering batch started")

	consumed := make(map[string]bool, len(articles))

	// Phase 1: match articles into existing clusters by title alone, since
	// cluster candidates only expose their canonical title.
	matched := make(map[string][]*models.Article)
	for _, article := range articles {
		best, score, ok := BestMatch(scorer, titleDocID(article.ID), candidates, e.cfg.MatchThreshold)
		if !ok {
			continue
		}
		matched[best.ID] = append(matched[best.ID], article)
		consumed[article.ID] = true
		log.Debug().
			Str("article", article.ID).
			Str("cluster", best.ID).
			Float64("score", score).
			Msg("Article matched existing cluster")
	}

	for clusterID, members := range matched {
		if err := e.attachToCluster(ctx, clusterID, members, now); err != nil {
			report.Errors = append(report.Errors, err.Error())
			log.Warn().Err(err).Str("cluster", clusterID).Msg("Cluster update failed")
			continue
		}
		report.Updated++
		report.Processed += len(members)
	}

	// Phase 2: group remaining articles into new clusters.
	for i, seed := range articles {
		if consumed[seed.ID] {
			continue
		}

		group := []*models.Article{seed}
		for _, other := range articles[i+1:] {
			if consumed[other.ID] {
				continue
			}
			if scorer.Score(seed.ID, other.ID) >= e.cfg.GroupThreshold {
				group = append(group, other)
			}
		}

		// Singletons stay unclustered for a future batch to pick up.
		if len(group) < 2 {
			continue
		}

		for _, member := range group {
			consumed[member.ID] = true
		}

		created, err := e.createCluster(ctx, group, now)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			log.Warn().Err(err).Int("members", len(group)).Msg("New cluster formation failed")
			if created {
				report.Created++
			}
			continue
		}
		report.Created++
		report.Processed += len(group)
	}

	for _, article := range articles {
		if !consumed[article.ID] {
			report.Leftover++
		}
	}

	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("processed", report.Processed).
		Int("leftover", report.Leftover).
		Int("errors", len(report.Errors)).
		Msg("Clustering batch complete")

	return report, nil
}

// selectScorer probes the ML service once per batch. On a healthy probe it
// prepares the embedding scorer; any preparation failure falls the whole
// batch back to keyword scoring so phase 1 and phase 2 never mix
// strategies.
func (e *Engine) selectScorer(ctx context.Context, docs []Document) Scorer {
	if e.embedder != nil {
		if e.embedder.Healthy(ctx) {
			embedding := NewEmbeddingScorer(e.embedder)
			err := embedding.Prepare(ctx, docs)
			if err == nil {
				return embedding
			}
			log.Warn().Err(err).Msg("Embedding preparation failed, falling back to keyword scoring")
		} else {
			log.Warn().Msg("ML clustering service unreachable, falling back to keyword scoring")
		}
	}

	keyword := NewKeywordScorer()
	_ = keyword.Prepare(ctx, docs)
	return keyword
}

// attachToCluster links new members and re-aggregates the cluster's fields
// from its full membership.
func (e *Engine) attachToCluster(ctx context.Context, clusterID string, newMembers []*models.Article, now time.Time) error {
	ids := make([]string, len(newMembers))
	for i, member := range newMembers {
		ids[i] = member.ID
	}

	if _, err := e.articles.AssignCluster(ctx, ids, clusterID); err != nil {
		return fmt.Errorf("link %d articles to cluster %s: %w", len(ids), clusterID, err)
	}

	members, err := e.articles.GetArticlesByCluster(ctx, clusterID)
	if err != nil {
		return fmt.Errorf("reload members of cluster %s: %w", clusterID, err)
	}

	fields, err := ComputeClusterFields(members, now)
	if err != nil {
		return fmt.Errorf("aggregate cluster %s: %w", clusterID, err)
	}

	if err := e.clusters.RecordClusterMatch(ctx, clusterID, fields); err != nil {
		return fmt.Errorf("update cluster %s: %w", clusterID, err)
	}

	e.notifySync(clusterID, fields.CanonicalTitle)
	return nil
}

// createCluster inserts a new cluster for the group and links its members.
// The bool result reports whether the cluster row was inserted, so a
// partial failure (inserted but not linked) still counts as created.
func (e *Engine) createCluster(ctx context.Context, group []*models.Article, now time.Time) (bool, error) {
	fields, err := ComputeClusterFields(group, now)
	if err != nil {
		return false, fmt.Errorf("aggregate new cluster: %w", err)
	}

	cluster := &models.Cluster{
		CanonicalTitle: fields.CanonicalTitle,
		WindowStart:    fields.WindowStart,
		WindowEnd:      fields.WindowEnd,
		Countries:      models.JSONStringArray(fields.Countries),
		Topics:         models.JSONStringArray(fields.Topics),
		ArticleCount:   fields.ArticleCount,
		SourceCount:    fields.SourceCount,
		Severity:       fields.Severity,
		Confidence:     fields.Confidence,
	}
	if err := e.clusters.InsertCluster(ctx, cluster); err != nil {
		return false, fmt.Errorf("insert new cluster: %w", err)
	}

	ids := make([]string, len(group))
	for i, member := range group {
		ids[i] = member.ID
	}
	if _, err := e.articles.AssignCluster(ctx, ids, cluster.ID); err != nil {
		return true, fmt.Errorf("link %d articles to new cluster %s: %w", len(ids), cluster.ID, err)
	}

	e.notifySync(cluster.ID, cluster.CanonicalTitle)
	return true, nil
}

func (e *Engine) notifySync(clusterID, title string) {
	if e.syncFunc != nil {
		e.syncFunc(clusterID, title)
	}
}

// titleDocID keys the document holding an article's bare title, scored
// against cluster titles in the match phase. Row IDs are UUIDs, so the
// suffix cannot collide.
func titleDocID(articleID string) string {
	return articleID + "#title"
}

// buildDocuments collects the texts to score. Each article contributes two
// documents: its bare title for matching against cluster canonical titles,
// and its full match text (title plus snippet) for article-to-article
// grouping. Candidate clusters contribute their canonical title.
func buildDocuments(articles []*models.Article, clusters []*models.Cluster) []Document {
	docs := make([]Document, 0, 2*len(articles)+len(clusters))
	for _, article := range articles {
		docs = append(docs, Document{ID: titleDocID(article.ID), Text: article.Title})
		docs = append(docs, Document{ID: article.ID, Text: article.MatchText()})
	}
	for _, cluster := range clusters {
		docs = append(docs, Document{ID: cluster.ID, Text: cluster.CanonicalTitle})
	}
	return docs
}
