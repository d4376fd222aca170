package models

// BatchReport is the structured result of one clustering batch. Partial
// failures are recorded in Errors; the batch itself only fails when the
// datastore is unreachable.
type BatchReport struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Processed int      `json:"processed"`
	Leftover  int      `json:"leftover"`
	Strategy  string   `json:"strategy"`
	Errors    []string `json:"errors"`
}

// RepairReport is the result of repairing a single cluster.
type RepairReport struct {
	Relinked     int `json:"relinked"`
	ArticleCount int `json:"article_count"`
	SourceCount  int `json:"source_count"`
}
