package cluster

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/sitrep/internal/config"
	"github.com/thebtf/sitrep/pkg/models"
)

// fakeStore is an in-memory implementation of db.ArticleStore and
// db.ClusterStore with per-operation error injection.
type fakeStore struct {
	mu       sync.Mutex
	articles map[string]*models.Article
	clusters map[string]*models.Cluster

	errUnclustered error
	errActive      error
	errAssign      error
	errRecord      error
	errReconcile   error

	// errInsertOnce fails the next InsertCluster only.
	errInsertOnce error
	// errAssignAfterInsert fails AssignCluster calls that follow a
	// successful InsertCluster, to simulate a partial failure.
	errAssignAfterInsert error
	inserted             bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles: make(map[string]*models.Article),
		clusters: make(map[string]*models.Cluster),
	}
}

func (f *fakeStore) addArticle(sourceID, title string, published time.Time) *models.Article {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &models.Article{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		Title:       title,
		URL:         "https://example.com/" + uuid.NewString(),
		PublishedAt: sql.NullTime{Time: published, Valid: !published.IsZero()},
		FetchedAt:   time.Now(),
	}
	f.articles[a.ID] = a
	return a
}

func (f *fakeStore) addCluster(title string, windowStart, windowEnd, updatedAt time.Time) *models.Cluster {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &models.Cluster{
		ID:             uuid.NewString(),
		CanonicalTitle: title,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		UpdatedAt:      updatedAt,
	}
	f.clusters[c.ID] = c
	return c
}

func effectiveTime(a *models.Article) time.Time {
	if a.PublishedAt.Valid {
		return a.PublishedAt.Time
	}
	return a.FetchedAt
}

func (f *fakeStore) GetArticleByID(_ context.Context, id string) (*models.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return nil, models.ErrArticleNotFound
	}
	return a, nil
}

func (f *fakeStore) GetUnclusteredArticles(_ context.Context, since time.Time, limit int) ([]*models.Article, error) {
	if f.errUnclustered != nil {
		return nil, f.errUnclustered
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Article
	for _, a := range f.articles {
		if !a.ClusterID.Valid && !effectiveTime(a).Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := effectiveTime(out[i]), effectiveTime(out[j])
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.After(tj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetUnclusteredInWindow(_ context.Context, start, end time.Time, limit int) ([]*models.Article, error) {
	if f.errUnclustered != nil {
		return nil, f.errUnclustered
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Article
	for _, a := range f.articles {
		ts := effectiveTime(a)
		if !a.ClusterID.Valid && !ts.Before(start) && !ts.After(end) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return effectiveTime(out[i]).After(effectiveTime(out[j]))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetArticlesByCluster(_ context.Context, clusterID string) ([]*models.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Article
	for _, a := range f.articles {
		if a.ClusterID.Valid && a.ClusterID.String == clusterID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := effectiveTime(out[i]), effectiveTime(out[j])
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out, nil
}

func (f *fakeStore) AssignCluster(_ context.Context, articleIDs []string, clusterID string) (int64, error) {
	if f.errAssign != nil {
		return 0, f.errAssign
	}
	if f.errAssignAfterInsert != nil && f.inserted {
		return 0, f.errAssignAfterInsert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range articleIDs {
		if a, ok := f.articles[id]; ok {
			a.ClusterID = sql.NullString{String: clusterID, Valid: true}
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetArticleCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.articles), nil
}

func (f *fakeStore) GetUnclusteredCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.articles {
		if !a.ClusterID.Valid {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GetClusterByID(_ context.Context, id string) (*models.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clusters[id]
	if !ok {
		return nil, models.ErrClusterNotFound
	}
	return c, nil
}

func (f *fakeStore) GetActiveClustersSince(_ context.Context, since time.Time) ([]*models.Cluster, error) {
	if f.errActive != nil {
		return nil, f.errActive
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Cluster
	for _, c := range f.clusters {
		if !c.WindowEnd.Before(since) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (f *fakeStore) GetRecentClusters(_ context.Context, limit int) ([]*models.Cluster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Cluster
	for _, c := range f.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetClusterCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clusters), nil
}

func (f *fakeStore) InsertCluster(_ context.Context, cluster *models.Cluster) error {
	if f.errInsertOnce != nil {
		err := f.errInsertOnce
		f.errInsertOnce = nil
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if cluster.ID == "" {
		cluster.ID = uuid.NewString()
	}
	cluster.CreatedAt = time.Now()
	cluster.UpdatedAt = cluster.CreatedAt
	stored := *cluster
	f.clusters[cluster.ID] = &stored
	f.inserted = true
	return nil
}

func (f *fakeStore) RecordClusterMatch(_ context.Context, clusterID string, fields *models.ClusterFields) error {
	if f.errRecord != nil {
		return f.errRecord
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clusters[clusterID]
	if !ok {
		return models.ErrClusterNotFound
	}
	c.CanonicalTitle = fields.CanonicalTitle
	c.WindowStart = fields.WindowStart
	c.WindowEnd = fields.WindowEnd
	c.Countries = models.JSONStringArray(fields.Countries)
	c.Topics = models.JSONStringArray(fields.Topics)
	c.ArticleCount = fields.ArticleCount
	c.SourceCount = fields.SourceCount
	c.Severity = fields.Severity
	c.Confidence = fields.Confidence
	c.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) UpdateClusterCounts(_ context.Context, clusterID string, articleCount, sourceCount int) error {
	if f.errReconcile != nil {
		return f.errReconcile
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clusters[clusterID]
	if !ok {
		return models.ErrClusterNotFound
	}
	c.ArticleCount = articleCount
	c.SourceCount = sourceCount
	c.UpdatedAt = time.Now()
	return nil
}

// fakeEmbedder serves canned vectors keyed by input text.
type fakeEmbedder struct {
	healthy bool
	vectors map[string][]float64
	embedErr error
}

func (f *fakeEmbedder) Healthy(context.Context) bool { return f.healthy }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LookbackDays = 7
	cfg.BatchLimit = 500
	return cfg
}
