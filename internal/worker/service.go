// Package worker provides the HTTP worker service for sitrep.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/sitrep/internal/cluster"
	"github.com/thebtf/sitrep/internal/config"
	"github.com/thebtf/sitrep/internal/db"
	gormdb "github.com/thebtf/sitrep/internal/db/gorm"
	"github.com/thebtf/sitrep/internal/mlcluster"
	"github.com/thebtf/sitrep/internal/vector/pgvector"
	"github.com/thebtf/sitrep/internal/watcher"
	"github.com/thebtf/sitrep/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout bounds every request. Generous enough for an
	// embedding batch against a cold ML service.
	DefaultHTTPTimeout = 2 * time.Minute

	// MaxRequestBody limits incoming request bodies.
	MaxRequestBody = 1 << 20 // 1 MiB

	// EmbeddingModel is the sentence-transformer the ML service runs.
	// Must match the vector(384) column dimension.
	EmbeddingModel = "all-MiniLM-L6-v2"
)

// batchRunner is the clustering surface the HTTP handlers drive.
type batchRunner interface {
	Run(ctx context.Context, days, limit int) (*models.BatchReport, error)
	Repair(ctx context.Context, clusterID string) (*models.RepairReport, error)
}

// vectorIndex is the cluster vector surface the HTTP handlers use.
type vectorIndex interface {
	SimilarClusters(ctx context.Context, clusterID string, limit int) ([]pgvector.SimilarCluster, error)
	Count(ctx context.Context) (int64, error)
	Model() string
}

// Service is the main worker service orchestrator.
type Service struct {
	// Version of the worker binary
	version string

	// Configuration
	config *config.Config

	// Database
	store    *gormdb.Store
	articles db.ArticleStore
	clusters db.ClusterStore

	// Clustering pipeline
	engine    batchRunner
	scheduler *cluster.Scheduler
	mlClient  *mlcluster.Client

	// Vector index for cluster title embeddings
	vecIndex  vectorIndex
	vecSyncer *pgvector.Syncer

	// HTTP server
	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	// runMu serializes clustering batches; a held lock turns POST
	// /api/cluster into a 409.
	runMu sync.Mutex

	// Last completed batch, for /api/stats
	lastMu     sync.RWMutex
	lastReport *models.BatchReport
	lastRunAt  time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Initialization state (for deferred init)
	ready     atomic.Bool
	initError error
	initMu    sync.RWMutex

	// Config file watcher (triggers restart on change)
	configWatcher *watcher.SettingsWatcher
}

// NewService creates a new worker service with deferred initialization.
// The HTTP surface is available immediately; database and ML wiring
// happen in the background and gate the /api routes via readiness.
func NewService(version string) (*Service, error) {
	cfg := config.Get()

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:   version,
		config:    cfg,
		router:    chi.NewRouter(),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	// Setup middleware and routes (health endpoint works immediately)
	svc.setupMiddleware()
	svc.setupRoutes()

	// Start async initialization
	go svc.initializeAsync()

	return svc, nil
}

// initializeAsync performs heavy initialization in the background.
func (s *Service) initializeAsync() {
	log.Info().Msg("Starting async initialization...")

	// Ensure data directory and settings exist
	if err := config.EnsureAll(); err != nil {
		s.setInitError(fmt.Errorf("ensure data dir: %w", err))
		return
	}

	// Initialize database (this includes migrations - can be slow)
	store, err := gormdb.NewStore(gormdb.Config{
		DSN:      s.config.DatabaseDSN,
		MaxConns: s.config.MaxConns,
	})
	if err != nil {
		s.setInitError(fmt.Errorf("init database: %w", err))
		return
	}

	articles := gormdb.NewArticleStore(store)
	clusters := gormdb.NewClusterStore(store)

	// ML embedding client. The engine probes its health per batch and
	// falls back to keyword scoring, so an unreachable service is fine.
	mlClient := mlcluster.NewClient(s.config.MLClusterURL, s.config.MLClusterTimeout)

	engine := cluster.NewEngine(articles, clusters, mlClient, s.config)

	// Vector index for cluster titles (optional)
	var vecIndex vectorIndex
	var vecSyncer *pgvector.Syncer
	if s.config.EmbeddingSyncEnabled {
		client, err := pgvector.NewClient(store.GetDB(), EmbeddingModel)
		if err != nil {
			log.Warn().Err(err).Msg("pgvector client creation failed, embedding sync disabled")
		} else {
			vecIndex = client
			vecSyncer = pgvector.NewSyncer(client, mlClient)
			vecSyncer.Start()
			engine.SetClusterSyncFunc(vecSyncer.Enqueue)
			log.Info().Str("model", EmbeddingModel).Msg("Cluster embedding sync started")
		}
	}

	scheduler := cluster.NewScheduler(s.runScheduledBatch, engine.Repair, clusters, cluster.DefaultSchedulerConfig(), log.Logger)

	s.initMu.Lock()
	s.store = store
	s.articles = articles
	s.clusters = clusters
	s.engine = engine
	s.scheduler = scheduler
	s.mlClient = mlClient
	s.vecIndex = vecIndex
	s.vecSyncer = vecSyncer
	s.initError = nil
	s.initMu.Unlock()

	s.ready.Store(true)
	log.Info().Msg("Async initialization complete - service ready")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		scheduler.Start(s.ctx)
	}()

	s.startWatchers()
}

// runScheduledBatch serializes scheduled batches with the HTTP trigger and
// records the outcome for /api/stats.
func (s *Service) runScheduledBatch(ctx context.Context) (*models.BatchReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report, err := s.engine.Run(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	s.recordBatch(report)
	return report, nil
}

// startWatchers sets up the config file watcher.
func (s *Service) startWatchers() {
	configPath := config.SettingsPath()
	configWatcher, err := watcher.NewSettingsWatcher(configPath, func() {
		log.Warn().Str("path", configPath).Msg("Config file changed, reloading...")
		s.reloadConfig()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	s.configWatcher = configWatcher
	if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		log.Info().Str("path", configPath).Msg("Config file watcher started")
	}
}

// reloadConfig reloads configuration from disk.
// For now, this triggers a graceful restart by exiting (the supervisor
// restarts us with the new config).
func (s *Service) reloadConfig() {
	log.Info().Msg("Config changed, triggering graceful restart...")
	time.Sleep(100 * time.Millisecond)
	os.Exit(0)
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBody))
	s.router.Use(RequireJSONContentType)
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health check (both root and API-prefixed for compatibility)
	// Returns 200 immediately so schedulers can connect during init
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)

	// Version endpoint for deploy tooling
	s.router.Get("/api/version", s.handleVersion)

	// Readiness check - returns 200 only when fully initialized
	s.router.Get("/api/ready", s.handleReady)

	// Routes that require DB to be ready
	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		// Clustering pipeline
		r.Post("/api/cluster", s.handleClusterRun)
		r.Post("/api/clusters/{id}/repair", s.handleRepairCluster)

		// Data routes
		r.Get("/api/clusters", s.handleGetClusters)
		r.Get("/api/clusters/{id}", s.handleGetCluster)
		r.Get("/api/clusters/{id}/similar", s.handleGetSimilarClusters)
		r.Get("/api/stats", s.handleGetStats)
	})
}

// recordBatch stores the outcome of the latest clustering batch.
func (s *Service) recordBatch(report *models.BatchReport) {
	s.lastMu.Lock()
	s.lastReport = report
	s.lastRunAt = time.Now()
	s.lastMu.Unlock()
}

// lastBatch returns the most recent batch report, or nil before the first run.
func (s *Service) lastBatch() (*models.BatchReport, time.Time) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastReport, s.lastRunAt
}

// Start starts the worker service.
// The HTTP server starts immediately; database initialization happens async.
func (s *Service) Start() error {
	port := config.GetWorkerPort()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Int("port", port).
		Int("pid", os.Getpid()).
		Msg("Worker HTTP server started (initialization in progress)")

	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.configWatcher != nil {
		s.configWatcher.Stop()
	}

	// Shutdown HTTP server
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	// Drain the embedding sync queue
	if s.vecSyncer != nil {
		s.vecSyncer.Close()
	}

	// Close database
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("Database close error")
		}
	}

	s.wg.Wait()

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
