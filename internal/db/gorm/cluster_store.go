// Package gorm provides GORM-based database operations for sitrep.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/sitrep/pkg/models"
)

// ClusterStore provides cluster-related database operations using GORM.
type ClusterStore struct {
	store *Store
	db    *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{
		store: store,
		db:    store.DB,
	}
}

// GetClusterByID retrieves a single cluster by ID.
func (s *ClusterStore) GetClusterByID(ctx context.Context, id string) (*models.Cluster, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_cluster")
	defer cancel()

	var row Cluster
	err := s.db.WithContext(timeoutCtx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrClusterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", id, err)
	}
	return toModelCluster(&row), nil
}

// GetActiveClustersSince returns clusters whose activity window still
// overlaps the lookback horizon, most recently updated first. These are the
// match candidates for an incoming batch.
func (s *ClusterStore) GetActiveClustersSince(ctx context.Context, since time.Time) ([]*models.Cluster, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "get_active_clusters")
	defer cancel()

	var rows []Cluster
	err := s.db.WithContext(timeoutCtx).
		Where("window_end >= ?", since).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get active clusters: %w", err)
	}
	return toModelClusters(rows), nil
}

// GetRecentClusters returns the most recently updated clusters.
func (s *ClusterStore) GetRecentClusters(ctx context.Context, limit int) ([]*models.Cluster, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_recent_clusters")
	defer cancel()

	var rows []Cluster
	err := s.db.WithContext(timeoutCtx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get recent clusters: %w", err)
	}
	return toModelClusters(rows), nil
}

// GetClusterCount returns the total number of clusters.
func (s *ClusterStore) GetClusterCount(ctx context.Context) (int, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "count_clusters")
	defer cancel()

	var count int64
	if err := s.db.WithContext(timeoutCtx).Model(&Cluster{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count clusters: %w", err)
	}
	return int(count), nil
}

// InsertCluster persists a new cluster. The generated ID and timestamps are
// written back onto the model.
func (s *ClusterStore) InsertCluster(ctx context.Context, cluster *models.Cluster) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "insert_cluster")
	defer cancel()

	row := &Cluster{
		ID:             cluster.ID,
		CanonicalTitle: cluster.CanonicalTitle,
		Summary:        cluster.Summary,
		WindowStart:    cluster.WindowStart,
		WindowEnd:      cluster.WindowEnd,
		Countries:      cluster.Countries,
		Topics:         cluster.Topics,
		ArticleCount:   cluster.ArticleCount,
		SourceCount:    cluster.SourceCount,
		Severity:       cluster.Severity,
		Confidence:     cluster.Confidence,
	}
	if err := s.db.WithContext(timeoutCtx).Create(row).Error; err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}

	cluster.ID = row.ID
	cluster.CreatedAt = row.CreatedAt
	cluster.UpdatedAt = row.UpdatedAt
	return nil
}

// RecordClusterMatch applies the re-aggregated fields after new members
// joined an existing cluster. Bumps updated_at so the cluster wins ties for
// subsequent matches.
func (s *ClusterStore) RecordClusterMatch(ctx context.Context, clusterID string, fields *models.ClusterFields) error {
	return s.applyUpdates(ctx, clusterID, "record_cluster_match", map[string]any{
		"canonical_title": fields.CanonicalTitle,
		"window_start":    fields.WindowStart,
		"window_end":      fields.WindowEnd,
		"countries":       models.JSONStringArray(fields.Countries),
		"topics":          models.JSONStringArray(fields.Topics),
		"article_count":   fields.ArticleCount,
		"source_count":    fields.SourceCount,
		"severity":        fields.Severity,
		"confidence":      fields.Confidence,
		"updated_at":      time.Now(),
	})
}

// UpdateClusterCounts reconciles a cluster's membership counts. Used by
// repair, which converges counts against ground truth without touching the
// other aggregates.
func (s *ClusterStore) UpdateClusterCounts(ctx context.Context, clusterID string, articleCount, sourceCount int) error {
	return s.applyUpdates(ctx, clusterID, "update_cluster_counts", map[string]any{
		"article_count": articleCount,
		"source_count":  sourceCount,
		"updated_at":    time.Now(),
	})
}

func (s *ClusterStore) applyUpdates(ctx context.Context, clusterID, operation string, updates map[string]any) error {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, operation)
	defer cancel()

	res := s.db.WithContext(timeoutCtx).
		Model(&Cluster{}).
		Where("id = ?", clusterID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%s for cluster %s: %w", operation, clusterID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrClusterNotFound
	}
	return nil
}

func toModelClusters(rows []Cluster) []*models.Cluster {
	out := make([]*models.Cluster, 0, len(rows))
	for i := range rows {
		out = append(out, toModelCluster(&rows[i]))
	}
	return out
}
