// Package pgvector maintains cluster title embeddings in PostgreSQL so
// clusters can be browsed by semantic similarity.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// vectorRecord is the GORM model for the cluster_vectors table (created by
// migrations).
type vectorRecord struct {
	ClusterID string       `gorm:"primaryKey;column:cluster_id"`
	Embedding pgvec.Vector `gorm:"column:embedding"`
	Model     string       `gorm:"column:model"`
}

func (vectorRecord) TableName() string { return "cluster_vectors" }

// SimilarCluster is one row of a similarity search result.
type SimilarCluster struct {
	ClusterID  string
	Distance   float64
	Similarity float64
}

// Client provides cluster vector operations via PostgreSQL+pgvector.
type Client struct {
	db    *gorm.DB
	sqlDB *sql.DB
	model string
}

// NewClient creates a pgvector client over an existing GORM connection.
// model names the embedding model producing the vectors.
func NewClient(db *gorm.DB, model string) (*Client, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	return &Client{db: db, sqlDB: sqlDB, model: model}, nil
}

// Upsert writes a cluster's title embedding, replacing any previous vector.
func (c *Client) Upsert(ctx context.Context, clusterID string, embedding []float64) error {
	if len(embedding) == 0 {
		return nil
	}

	rec := vectorRecord{
		ClusterID: clusterID,
		Embedding: pgvec.NewVector(toFloat32(embedding)),
		Model:     c.model,
	}

	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cluster_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"embedding", "model"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert cluster vector %s: %w", clusterID, err)
	}
	return nil
}

// SimilarClusters returns the clusters nearest to the given cluster's
// stored title embedding, by cosine distance, excluding the cluster itself.
// A cluster with no stored vector yet yields an empty result.
func (c *Client) SimilarClusters(ctx context.Context, clusterID string, limit int) ([]SimilarCluster, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := c.sqlDB.QueryContext(ctx, `
		SELECT v.cluster_id, v.embedding <=> q.embedding AS distance
		FROM cluster_vectors v
		JOIN cluster_vectors q ON q.cluster_id = $1
		WHERE v.cluster_id != $1
		ORDER BY distance
		LIMIT $2`,
		clusterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cluster vectors: %w", err)
	}
	defer rows.Close()

	var results []SimilarCluster
	for rows.Next() {
		var r SimilarCluster
		if err := rows.Scan(&r.ClusterID, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		// Cosine distance is in [0,2]; map to a [0,1] similarity.
		r.Similarity = 1 - r.Distance/2
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the total number of stored cluster vectors.
func (c *Client) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&vectorRecord{}).Count(&count).Error
	return count, err
}

// Model returns the embedding model name this client writes.
func (c *Client) Model() string {
	return c.model
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
