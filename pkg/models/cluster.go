package models

import (
	"database/sql"
	"time"
)

// Cluster is a mutable aggregate over a set of articles believed to describe
// the same real-world event.
type Cluster struct {
	ID             string          `json:"id"`
	CanonicalTitle string          `json:"canonical_title"`
	Summary        sql.NullString  `json:"summary"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Countries      JSONStringArray `json:"countries"`
	Topics         JSONStringArray `json:"topics"`
	ArticleCount   int             `json:"article_count"`
	SourceCount    int             `json:"source_count"`
	Severity       int             `json:"severity"`
	Confidence     int             `json:"confidence"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClusterFields holds the derived fields computed by the aggregator from a
// cluster's member articles.
type ClusterFields struct {
	CanonicalTitle string
	WindowStart    time.Time
	WindowEnd      time.Time
	Countries      []string
	Topics         []string
	ArticleCount   int
	SourceCount    int
	Severity       int
	Confidence     int
}
