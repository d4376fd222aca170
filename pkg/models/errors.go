package models

import "errors"

var (
	// ErrClusterNotFound is returned when a cluster ID does not exist.
	ErrClusterNotFound = errors.New("cluster not found")

	// ErrArticleNotFound is returned when an article ID does not exist.
	ErrArticleNotFound = errors.New("article not found")

	// ErrEmptyMembers is returned when cluster fields are requested for an
	// empty member set.
	ErrEmptyMembers = errors.New("cluster has no member articles")
)
