package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/sitrep/pkg/models"
	"github.com/thebtf/sitrep/pkg/similarity"
)

// repairCandidateLimit caps how many unclustered articles one repair pass
// will score.
const repairCandidateLimit = 500

// Repair re-attaches stray unclustered articles to an existing cluster and
// reconciles its counts from the full membership. Idempotent: a second run
// over the same data relinks nothing and leaves the cluster unchanged.
//
// Repair always scores by keyword overlap against the canonical title; it
// runs outside the batch path and must not depend on the ML service.
func (e *Engine) Repair(ctx context.Context, clusterID string) (*models.RepairReport, error) {
	cluster, err := e.clusters.GetClusterByID(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	slack := time.Duration(e.cfg.RepairWindowSlackHours) * time.Hour
	start := cluster.WindowStart.Add(-slack)
	end := cluster.WindowEnd.Add(slack)

	candidates, err := e.articles.GetUnclusteredInWindow(ctx, start, end, repairCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("load repair candidates for cluster %s: %w", clusterID, err)
	}

	titleKeywords := similarity.ExtractKeywords(cluster.CanonicalTitle)

	type scored struct {
		article *models.Article
		score   float64
	}
	var matches []scored
	for _, candidate := range candidates {
		score := similarity.Jaccard(titleKeywords, similarity.ExtractKeywords(candidate.MatchText()))
		if score >= e.cfg.RepairThreshold {
			matches = append(matches, scored{article: candidate, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > e.cfg.RepairMaxRelink {
		matches = matches[:e.cfg.RepairMaxRelink]
	}

	var relinked int64
	if len(matches) > 0 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.article.ID
		}
		relinked, err = e.articles.AssignCluster(ctx, ids, clusterID)
		if err != nil {
			return nil, fmt.Errorf("relink %d articles to cluster %s: %w", len(ids), clusterID, err)
		}
	}

	// Counts are reconciled from the full membership even when nothing was
	// relinked, so repair also converges clusters with stale counters. Only
	// article_count and source_count change; the window, tag sets, severity
	// and confidence stay as the batch path last wrote them, which keeps a
	// second repair over the same data a true no-op.
	members, err := e.articles.GetArticlesByCluster(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("reload members of cluster %s: %w", clusterID, err)
	}

	sources := make(map[string]bool)
	for _, member := range members {
		if member.SourceID != "" {
			sources[member.SourceID] = true
		}
	}
	articleCount := len(members)
	sourceCount := len(sources)

	if err := e.clusters.UpdateClusterCounts(ctx, clusterID, articleCount, sourceCount); err != nil {
		return nil, fmt.Errorf("reconcile cluster %s: %w", clusterID, err)
	}

	log.Info().
		Str("cluster", clusterID).
		Int64("relinked", relinked).
		Int("article_count", articleCount).
		Int("source_count", sourceCount).
		Msg("Cluster repair complete")

	return &models.RepairReport{
		Relinked:     int(relinked),
		ArticleCount: articleCount,
		SourceCount:  sourceCount,
	}, nil
}
