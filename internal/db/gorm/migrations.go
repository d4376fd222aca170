// Package gorm provides GORM-based database operations for sitrep.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core tables (Article, Cluster)
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes from struct tags
				if err := tx.AutoMigrate(&Article{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&Cluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("articles", "clusters")
			},
		},

		// Migration 002: pgvector extension and cluster title embeddings
		{
			ID: "002_cluster_vectors",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE EXTENSION IF NOT EXISTS vector`,
					`CREATE TABLE IF NOT EXISTS cluster_vectors (
						cluster_id TEXT PRIMARY KEY,
						embedding vector(384),
						model TEXT NOT NULL,
						updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
					)`,
					`CREATE INDEX IF NOT EXISTS idx_cluster_vectors_embedding
					 ON cluster_vectors USING hnsw (embedding vector_cosine_ops)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP TABLE IF EXISTS cluster_vectors").Error
			},
		},

		// Migration 003: Composite indexes for the batch scan paths
		{
			ID: "003_batch_scan_indexes",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					// Unclustered scan: WHERE cluster_id IS NULL AND published/fetched >= ?
					`CREATE INDEX IF NOT EXISTS idx_articles_unclustered
					 ON articles(published_at DESC, fetched_at DESC)
					 WHERE cluster_id IS NULL`,

					// Membership reads ordered by publication time
					`CREATE INDEX IF NOT EXISTS idx_articles_cluster_published
					 ON articles(cluster_id, published_at)`,

					// Active cluster lookup: WHERE window_end >= ? ORDER BY updated_at DESC
					`CREATE INDEX IF NOT EXISTS idx_clusters_active
					 ON clusters(window_end DESC, updated_at DESC)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				sqls := []string{
					"DROP INDEX IF EXISTS idx_articles_unclustered",
					"DROP INDEX IF EXISTS idx_articles_cluster_published",
					"DROP INDEX IF EXISTS idx_clusters_active",
				}
				for _, s := range sqls {
					_ = tx.Exec(s).Error
				}
				return nil
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}
