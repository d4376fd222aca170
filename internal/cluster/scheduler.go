package cluster

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/sitrep/internal/db"
	"github.com/thebtf/sitrep/pkg/models"
)

// BatchFunc runs one clustering batch with the configured window and limit.
type BatchFunc func(ctx context.Context) (*models.BatchReport, error)

// RepairFunc repairs a single cluster.
type RepairFunc func(ctx context.Context, clusterID string) (*models.RepairReport, error)

// SchedulerConfig contains scheduling intervals and limits.
type SchedulerConfig struct {
	// BatchInterval is the period between clustering batches (default 15m).
	BatchInterval time.Duration `json:"batch_interval"`
	// RepairInterval is the period between repair sweeps (default 24h).
	RepairInterval time.Duration `json:"repair_interval"`
	// RepairEnabled controls whether the repair sweep runs (default false).
	RepairEnabled bool `json:"repair_enabled"`
	// RepairLimit is the number of most recently updated clusters each
	// sweep covers (default 25).
	RepairLimit int `json:"repair_limit"`
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchInterval:  15 * time.Minute,
		RepairInterval: 24 * time.Hour,
		RepairEnabled:  false,
		RepairLimit:    25,
	}
}

// Scheduler runs clustering batches and repair sweeps on a schedule.
type Scheduler struct {
	batch    BatchFunc
	repair   RepairFunc
	clusters db.ClusterReader
	config   SchedulerConfig
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewScheduler creates a new clustering scheduler.
func NewScheduler(batch BatchFunc, repair RepairFunc, clusters db.ClusterReader, config SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		batch:    batch,
		repair:   repair,
		clusters: clusters,
		config:   config,
		logger:   logger.With().Str("component", "cluster-scheduler").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler's background loop. Call from a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().
		Dur("batch_interval", s.config.BatchInterval).
		Dur("repair_interval", s.config.RepairInterval).
		Bool("repair_enabled", s.config.RepairEnabled).
		Msg("Cluster scheduler started")

	batchTicker := time.NewTicker(s.config.BatchInterval)
	defer batchTicker.Stop()

	var repairCh <-chan time.Time
	if s.config.RepairEnabled {
		repairTicker := time.NewTicker(s.config.RepairInterval)
		defer repairTicker.Stop()
		repairCh = repairTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Cluster scheduler stopping (context done)")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("Cluster scheduler stopping (stop signal)")
			return
		case <-batchTicker.C:
			if err := s.RunBatchCycle(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Batch cycle failed")
			}
		case <-repairCh:
			if err := s.RunRepairCycle(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Repair cycle failed")
			}
		}
	}
}

// Stop signals the scheduler to shut down gracefully.
func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
		// Already stopped
	default:
		close(s.stopCh)
	}
}

// RunBatchCycle runs one clustering batch.
func (s *Scheduler) RunBatchCycle(ctx context.Context) error {
	start := time.Now()

	report, err := s.batch(ctx)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("processed", report.Processed).
		Int("leftover", report.Leftover).
		Str("strategy", report.Strategy).
		Dur("elapsed", time.Since(start)).
		Msg("Batch cycle complete")

	return nil
}

// RunRepairCycle repairs the most recently updated clusters. Per-cluster
// failures are logged and skipped.
func (s *Scheduler) RunRepairCycle(ctx context.Context) error {
	if !s.config.RepairEnabled {
		return nil
	}

	start := time.Now()

	clusters, err := s.clusters.GetRecentClusters(ctx, s.config.RepairLimit)
	if err != nil {
		return err
	}

	repaired := 0
	relinked := 0
	for _, cl := range clusters {
		if ctx.Err() != nil {
			break
		}

		report, err := s.repair(ctx, cl.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("cluster", cl.ID).Msg("Failed to repair cluster")
			continue
		}
		repaired++
		relinked += report.Relinked
	}

	s.logger.Info().
		Int("clusters", len(clusters)).
		Int("repaired", repaired).
		Int("relinked", relinked).
		Dur("elapsed", time.Since(start)).
		Msg("Repair cycle complete")

	return nil
}
