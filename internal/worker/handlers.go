package worker

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	gormdb "github.com/thebtf/sitrep/internal/db/gorm"
	"github.com/thebtf/sitrep/pkg/models"
)

// Handler configuration constants
const (
	// DefaultClustersLimit is the default number of clusters to return.
	DefaultClustersLimit = 50

	// DefaultSimilarLimit is the default number of similarity-search
	// neighbors to return.
	DefaultSimilarLimit = 10
)

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// handleHealth handles health check requests.
// Returns 200 OK immediately (even during init) so schedulers can probe.
// Use /api/ready for full readiness check.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, map[string]interface{}{
		"status":  status,
		"version": s.version,
	})
}

// handleVersion returns the worker version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version": s.version,
	})
}

// handleReady handles readiness check requests.
// Returns 200 only when fully initialized, 503 otherwise.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		if err := s.GetInitError(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, "service initializing", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// requireReady is middleware that returns 503 if service isn't ready.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			if err := s.GetInitError(); err != nil {
				http.Error(w, "service initialization failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClusterRunRequest is the optional request body for triggering a batch.
// Zero values fall back to the configured defaults.
type ClusterRunRequest struct {
	Days  int `json:"days"`
	Limit int `json:"limit"`
}

// handleClusterRun triggers one clustering batch.
// Batches are serialized: a second trigger while one is in flight gets 409.
func (s *Service) handleClusterRun(w http.ResponseWriter, r *http.Request) {
	var req ClusterRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.runMu.TryLock() {
		http.Error(w, "clustering batch already running", http.StatusConflict)
		return
	}
	defer s.runMu.Unlock()

	started := time.Now()
	report, err := s.engine.Run(r.Context(), req.Days, req.Limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.recordBatch(report)

	log.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("processed", report.Processed).
		Int("leftover", report.Leftover).
		Str("strategy", report.Strategy).
		Dur("elapsed", time.Since(started)).
		Msg("Clustering batch finished")

	writeJSON(w, report)
}

// handleRepairCluster re-links stray articles into one cluster and
// reconciles its derived counts.
func (s *Service) handleRepairCluster(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")
	if clusterID == "" {
		http.Error(w, "cluster id required", http.StatusBadRequest)
		return
	}

	report, err := s.engine.Repair(r.Context(), clusterID)
	if err != nil {
		if errors.Is(err, models.ErrClusterNotFound) {
			http.Error(w, "cluster not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("cluster", clusterID).
		Int("relinked", report.Relinked).
		Int("articles", report.ArticleCount).
		Msg("Cluster repaired")

	writeJSON(w, report)
}

// handleGetClusters returns recent clusters, most recently updated first.
func (s *Service) handleGetClusters(w http.ResponseWriter, r *http.Request) {
	limit := gormdb.ParseLimitParamWithMax(r, DefaultClustersLimit, 0)

	clusters, err := s.clusters.GetRecentClusters(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Ensure we return empty array, not null
	if clusters == nil {
		clusters = []*models.Cluster{}
	}
	writeJSON(w, clusters)
}

// ClusterDetail is a cluster with its member articles.
type ClusterDetail struct {
	*models.Cluster
	Members []*models.Article `json:"members"`
}

// handleGetCluster returns one cluster with its member articles.
func (s *Service) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "id")

	cl, err := s.clusters.GetClusterByID(r.Context(), clusterID)
	if err != nil {
		if errors.Is(err, models.ErrClusterNotFound) {
			http.Error(w, "cluster not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	members, err := s.articles.GetArticlesByCluster(r.Context(), clusterID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if members == nil {
		members = []*models.Article{}
	}

	writeJSON(w, ClusterDetail{Cluster: cl, Members: members})
}

// SimilarClusterEntry is one neighbor in a cluster similarity search.
type SimilarClusterEntry struct {
	ClusterID      string  `json:"cluster_id"`
	CanonicalTitle string  `json:"canonical_title,omitempty"`
	Similarity     float64 `json:"similarity"`
	Distance       float64 `json:"distance"`
}

// handleGetSimilarClusters returns the clusters nearest to one cluster's
// title embedding. Requires embedding sync to be enabled; a cluster whose
// title has not been embedded yet yields an empty list.
func (s *Service) handleGetSimilarClusters(w http.ResponseWriter, r *http.Request) {
	if s.vecIndex == nil {
		http.Error(w, "vector search disabled", http.StatusServiceUnavailable)
		return
	}

	clusterID := chi.URLParam(r, "id")
	if _, err := s.clusters.GetClusterByID(r.Context(), clusterID); err != nil {
		if errors.Is(err, models.ErrClusterNotFound) {
			http.Error(w, "cluster not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit := gormdb.ParseLimitParamWithMax(r, DefaultSimilarLimit, 0)
	neighbors, err := s.vecIndex.SimilarClusters(r.Context(), clusterID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries := make([]SimilarClusterEntry, 0, len(neighbors))
	for _, n := range neighbors {
		entry := SimilarClusterEntry{
			ClusterID:  n.ClusterID,
			Similarity: n.Similarity,
			Distance:   n.Distance,
		}
		if c, err := s.clusters.GetClusterByID(r.Context(), n.ClusterID); err == nil {
			entry.CanonicalTitle = c.CanonicalTitle
		}
		entries = append(entries, entry)
	}
	writeJSON(w, entries)
}

// handleGetStats returns worker statistics.
func (s *Service) handleGetStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"uptime": time.Since(s.startTime).String(),
		"ready":  s.ready.Load(),
	}

	if count, err := s.articles.GetArticleCount(r.Context()); err == nil {
		response["articleCount"] = count
	}
	if count, err := s.articles.GetUnclusteredCount(r.Context()); err == nil {
		response["unclusteredCount"] = count
	}
	if count, err := s.clusters.GetClusterCount(r.Context()); err == nil {
		response["clusterCount"] = count
	}

	if report, at := s.lastBatch(); report != nil {
		response["lastBatch"] = report
		response["lastBatchAt"] = at.Format(time.RFC3339)
	}

	if s.mlClient != nil {
		response["mlClusterHealthy"] = s.mlClient.Healthy(r.Context())
	}

	if s.vecIndex != nil {
		response["embeddingModel"] = s.vecIndex.Model()
		if count, err := s.vecIndex.Count(r.Context()); err == nil {
			response["vectorCount"] = count
		}
	}

	if s.store != nil {
		response["database"] = s.store.HealthInfo(r.Context())
		response["pool"] = s.store.GetMetrics()
	}

	writeJSON(w, response)
}
