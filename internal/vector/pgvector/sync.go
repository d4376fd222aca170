// Package pgvector maintains cluster title embeddings in PostgreSQL so
// clusters can be browsed by semantic similarity.
package pgvector

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Embedder provides sentence embeddings for canonical titles.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

const (
	syncQueueSize   = 256
	syncWorkers     = 2
	syncItemTimeout = 30 * time.Second
)

type syncRequest struct {
	clusterID string
	title     string
}

// Syncer keeps cluster title embeddings current in the background. Cluster
// writes enqueue work; a small worker pool embeds the titles and upserts
// the vectors. Embedding is best-effort enrichment, so a full queue drops
// the request rather than stalling the clustering batch.
type Syncer struct {
	client   *Client
	embedder Embedder
	queue    chan syncRequest
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewSyncer creates a stopped syncer; call Start before enqueueing.
func NewSyncer(client *Client, embedder Embedder) *Syncer {
	return &Syncer{
		client:   client,
		embedder: embedder,
		queue:    make(chan syncRequest, syncQueueSize),
	}
}

// Start launches the worker pool.
func (s *Syncer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	s.group = group
	for i := 0; i < syncWorkers; i++ {
		group.Go(func() error {
			s.worker(ctx)
			return nil
		})
	}
}

// Enqueue schedules an embedding refresh for a cluster's canonical title.
func (s *Syncer) Enqueue(clusterID, title string) {
	select {
	case s.queue <- syncRequest{clusterID: clusterID, title: title}:
	default:
		log.Warn().Str("cluster", clusterID).Msg("Embedding sync queue full, dropping request")
	}
}

// Close stops the workers after draining in-flight items.
func (s *Syncer) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
}

func (s *Syncer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			s.process(req)
		}
	}
}

func (s *Syncer) process(req syncRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), syncItemTimeout)
	defer cancel()

	vectors, err := s.embedder.Embed(ctx, []string{req.title})
	if err != nil {
		log.Warn().Err(err).Str("cluster", req.clusterID).Msg("Title embedding failed")
		return
	}
	if len(vectors) == 0 {
		return
	}

	if err := s.client.Upsert(ctx, req.clusterID, vectors[0]); err != nil {
		log.Warn().Err(err).Str("cluster", req.clusterID).Msg("Cluster vector upsert failed")
		return
	}

	log.Debug().Str("cluster", req.clusterID).Msg("Cluster title embedding synced")
}
