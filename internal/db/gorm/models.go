// Package gorm provides GORM-based database operations for sitrep.
package gorm

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/thebtf/sitrep/pkg/models"
)

// GORM Models

// Note: models.JSONStringArray implements sql.Scanner and driver.Valuer and
// is stored as jsonb.

// Article represents an ingested news article row.
type Article struct {
	ID          string                 `gorm:"primaryKey;type:text"`
	SourceID    string                 `gorm:"type:text;index:idx_articles_source;not null"`
	Title       string                 `gorm:"type:text;not null"`
	URL         string                 `gorm:"type:text;uniqueIndex:idx_articles_url;not null"`
	Snippet     sql.NullString         `gorm:"type:text"`
	FullContent sql.NullString         `gorm:"type:text"`
	PublishedAt sql.NullTime           `gorm:"type:timestamptz;index:idx_articles_published,sort:desc"`
	FetchedAt   time.Time              `gorm:"type:timestamptz;index:idx_articles_fetched,sort:desc;not null"`
	Countries   models.JSONStringArray `gorm:"type:jsonb"`
	Topics      models.JSONStringArray `gorm:"type:jsonb"`
	ClusterID   sql.NullString         `gorm:"type:text;index:idx_articles_cluster"`
	CreatedAt   time.Time              `gorm:"autoCreateTime;type:timestamptz"`
}

func (Article) TableName() string { return "articles" }

// BeforeCreate hook to ensure ID and timestamps are set.
func (a *Article) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now()
	}
	return nil
}

// Cluster represents a deduplicated event aggregate over articles.
type Cluster struct {
	ID             string                 `gorm:"primaryKey;type:text"`
	CanonicalTitle string                 `gorm:"type:text;not null"`
	Summary        sql.NullString         `gorm:"type:text"`
	WindowStart    time.Time              `gorm:"type:timestamptz;not null"`
	WindowEnd      time.Time              `gorm:"type:timestamptz;index:idx_clusters_window_end,sort:desc;not null"`
	Countries      models.JSONStringArray `gorm:"type:jsonb"`
	Topics         models.JSONStringArray `gorm:"type:jsonb"`
	ArticleCount   int                    `gorm:"default:0;not null"`
	SourceCount    int                    `gorm:"default:0;not null"`
	Severity       int                    `gorm:"default:0;not null"`
	Confidence     int                    `gorm:"default:0;not null"`
	CreatedAt      time.Time              `gorm:"autoCreateTime;type:timestamptz"`
	UpdatedAt      time.Time              `gorm:"autoUpdateTime;type:timestamptz;index:idx_clusters_updated,sort:desc"`
}

func (Cluster) TableName() string { return "clusters" }

// BeforeCreate hook to ensure ID is set.
func (c *Cluster) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// toModelArticle converts a GORM row to the domain model.
func toModelArticle(a *Article) *models.Article {
	return &models.Article{
		ID:          a.ID,
		SourceID:    a.SourceID,
		Title:       a.Title,
		URL:         a.URL,
		Snippet:     a.Snippet,
		FullContent: a.FullContent,
		PublishedAt: a.PublishedAt,
		FetchedAt:   a.FetchedAt,
		Countries:   a.Countries,
		Topics:      a.Topics,
		ClusterID:   a.ClusterID,
		CreatedAt:   a.CreatedAt,
	}
}

// toModelCluster converts a GORM row to the domain model.
func toModelCluster(c *Cluster) *models.Cluster {
	return &models.Cluster{
		ID:             c.ID,
		CanonicalTitle: c.CanonicalTitle,
		Summary:        c.Summary,
		WindowStart:    c.WindowStart,
		WindowEnd:      c.WindowEnd,
		Countries:      c.Countries,
		Topics:         c.Topics,
		ArticleCount:   c.ArticleCount,
		SourceCount:    c.SourceCount,
		Severity:       c.Severity,
		Confidence:     c.Confidence,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}
