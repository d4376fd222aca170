// Package db defines database interfaces for the sitrep stores.
package db

import (
	"context"
	"time"

	"github.com/thebtf/sitrep/pkg/models"
)

// ArticleReader defines read operations for articles.
type ArticleReader interface {
	GetArticleByID(ctx context.Context, id string) (*models.Article, error)
	GetUnclusteredArticles(ctx context.Context, since time.Time, limit int) ([]*models.Article, error)
	GetUnclusteredInWindow(ctx context.Context, start, end time.Time, limit int) ([]*models.Article, error)
	GetArticlesByCluster(ctx context.Context, clusterID string) ([]*models.Article, error)
	GetArticleCount(ctx context.Context) (int, error)
	GetUnclusteredCount(ctx context.Context) (int, error)
}

// ArticleWriter defines write operations for articles.
type ArticleWriter interface {
	AssignCluster(ctx context.Context, articleIDs []string, clusterID string) (int64, error)
}

// ArticleStore combines read and write operations for articles.
type ArticleStore interface {
	ArticleReader
	ArticleWriter
}

// ClusterReader defines read operations for clusters.
type ClusterReader interface {
	GetClusterByID(ctx context.Context, id string) (*models.Cluster, error)
	GetActiveClustersSince(ctx context.Context, since time.Time) ([]*models.Cluster, error)
	GetRecentClusters(ctx context.Context, limit int) ([]*models.Cluster, error)
	GetClusterCount(ctx context.Context) (int, error)
}

// ClusterWriter defines write operations for clusters.
type ClusterWriter interface {
	InsertCluster(ctx context.Context, cluster *models.Cluster) error
	RecordClusterMatch(ctx context.Context, clusterID string, fields *models.ClusterFields) error
	UpdateClusterCounts(ctx context.Context, clusterID string, articleCount, sourceCount int) error
}

// ClusterStore combines read and write operations for clusters.
type ClusterStore interface {
	ClusterReader
	ClusterWriter
}

// Store combines all aggregate stores behind a single handle.
type Store interface {
	ArticleStore
	ClusterStore
	HealthCheck(ctx context.Context) error
}
