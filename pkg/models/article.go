// Package models contains shared data structures for sitrep.
package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Article is a single ingested news article. Articles are immutable once
// ingested; the only field this subsystem mutates is ClusterID, set when the
// article is assigned to a cluster.
type Article struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Snippet     sql.NullString `json:"snippet"`
	FullContent sql.NullString `json:"full_content"`
	PublishedAt sql.NullTime   `json:"published_at"`
	FetchedAt   time.Time      `json:"fetched_at"`
	Countries   JSONStringArray `json:"countries"`
	Topics      JSONStringArray `json:"topics"`
	ClusterID   sql.NullString `json:"cluster_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MatchText returns the text used for similarity comparison against other
// articles: the title plus the snippet when one is present.
func (a *Article) MatchText() string {
	if a.Snippet.Valid && a.Snippet.String != "" {
		return a.Title + " " + a.Snippet.String
	}
	return a.Title
}

// PublishedOr returns the article's published timestamp, or the given
// fallback when the article has none.
func (a *Article) PublishedOr(fallback time.Time) time.Time {
	if a.PublishedAt.Valid {
		return a.PublishedAt.Time
	}
	return fallback
}

// JSONStringArray is a custom type for handling JSON string arrays in
// database columns.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}
