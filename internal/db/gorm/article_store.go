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

// ArticleStore provides article-related database operations using GORM.
type ArticleStore struct {
	store *Store
	db    *gorm.DB
}

// NewArticleStore creates a new article store.
func NewArticleStore(store *Store) *ArticleStore {
	return &ArticleStore{
		store: store,
		db:    store.DB,
	}
}

// GetArticleByID retrieves a single article by ID.
func (s *ArticleStore) GetArticleByID(ctx context.Context, id string) (*models.Article, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_article")
	defer cancel()

	var row Article
	err := s.db.WithContext(timeoutCtx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrArticleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	return toModelArticle(&row), nil
}

// GetUnclusteredArticles returns articles with no cluster assignment whose
// effective timestamp (published_at, or fetched_at when unset) falls on or
// after since. Ordered newest first, capped at limit.
func (s *ArticleStore) GetUnclusteredArticles(ctx context.Context, since time.Time, limit int) ([]*models.Article, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "get_unclustered")
	defer cancel()

	var rows []Article
	err := s.db.WithContext(timeoutCtx).
		Where("cluster_id IS NULL").
		Where("COALESCE(published_at, fetched_at) >= ?", since).
		Order("COALESCE(published_at, fetched_at) DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get unclustered articles: %w", err)
	}
	return toModelArticles(rows), nil
}

// GetUnclusteredInWindow returns unclustered articles whose effective
// timestamp falls inside [start, end]. Used by cluster repair, which widens
// the cluster's window before searching for strays.
func (s *ArticleStore) GetUnclusteredInWindow(ctx context.Context, start, end time.Time, limit int) ([]*models.Article, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "get_unclustered_window")
	defer cancel()

	var rows []Article
	err := s.db.WithContext(timeoutCtx).
		Where("cluster_id IS NULL").
		Where("COALESCE(published_at, fetched_at) BETWEEN ? AND ?", start, end).
		Order("COALESCE(published_at, fetched_at) DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get unclustered articles in window: %w", err)
	}
	return toModelArticles(rows), nil
}

// GetArticlesByCluster returns the full membership of a cluster, ordered by
// publication time ascending so the earliest member comes first.
func (s *ArticleStore) GetArticlesByCluster(ctx context.Context, clusterID string) ([]*models.Article, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_cluster_members")
	defer cancel()

	var rows []Article
	err := s.db.WithContext(timeoutCtx).
		Where("cluster_id = ?", clusterID).
		Order("COALESCE(published_at, fetched_at) ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get articles for cluster %s: %w", clusterID, err)
	}
	return toModelArticles(rows), nil
}

// AssignCluster links the given articles to a cluster in a single bulk
// update. Returns the number of rows actually updated, which may be lower
// than len(articleIDs) when some were relinked concurrently.
func (s *ArticleStore) AssignCluster(ctx context.Context, articleIDs []string, clusterID string) (int64, error) {
	if len(articleIDs) == 0 {
		return 0, nil
	}

	timeoutCtx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "assign_cluster")
	defer cancel()

	res := s.db.WithContext(timeoutCtx).
		Model(&Article{}).
		Where("id IN ?", articleIDs).
		Update("cluster_id", clusterID)
	if res.Error != nil {
		return 0, fmt.Errorf("assign %d articles to cluster %s: %w", len(articleIDs), clusterID, res.Error)
	}
	return res.RowsAffected, nil
}

// GetArticleCount returns the total number of articles.
func (s *ArticleStore) GetArticleCount(ctx context.Context) (int, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "count_articles")
	defer cancel()

	var count int64
	if err := s.db.WithContext(timeoutCtx).Model(&Article{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return int(count), nil
}

// GetUnclusteredCount returns the number of articles with no cluster.
func (s *ArticleStore) GetUnclusteredCount(ctx context.Context) (int, error) {
	timeoutCtx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "count_unclustered")
	defer cancel()

	var count int64
	err := s.db.WithContext(timeoutCtx).
		Model(&Article{}).
		Where("cluster_id IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unclustered articles: %w", err)
	}
	return int(count), nil
}

func toModelArticles(rows []Article) []*models.Article {
	out := make([]*models.Article, 0, len(rows))
	for i := range rows {
		out = append(out, toModelArticle(&rows[i]))
	}
	return out
}
