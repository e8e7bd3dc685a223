// Package service wires the scoring domain into the update coordinator used
// by the HTTP API, the CLI and the ingest workers.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/okian/composite/internal/adapters/mq/queue"
	"github.com/okian/composite/internal/adapters/mq/worker"
	"github.com/okian/composite/internal/adapters/repository"
	"github.com/okian/composite/internal/domain/components"
	"github.com/okian/composite/internal/domain/dedupe"
	"github.com/okian/composite/internal/domain/lock"
	"github.com/okian/composite/internal/domain/scoring"
	"github.com/okian/composite/internal/domain/settings"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

// Service serializes merge, compute and persist per applicant.
type Service struct {
	mu sync.RWMutex

	// Core components
	repo       repository.Repository
	store      *components.Store
	engine     *scoring.Engine
	settings   settings.Provider
	locks      *lock.Table
	deduper    dedupe.Deduper
	eventQueue *queue.InMemoryQueue
	workerPool *worker.Pool

	// Configuration
	lockTimeout         time.Duration
	lockShards          int
	workerCount         int
	queueSize           int
	dedupeSize          int
	maxRetries          int
	retryBackoff        time.Duration
	backfillConcurrency int
	now                 func() time.Time

	started bool
	stopped bool
	logger  logger.Logger
}

// New constructs a Service. Ingest workers run only after Start.
func New(opts ...Option) *Service {
	s := &Service{
		lockTimeout:         2 * time.Second,
		lockShards:          64,
		workerCount:         runtime.NumCPU() * 2,
		queueSize:           10000,
		dedupeSize:          100000,
		maxRetries:          3,
		retryBackoff:        50 * time.Millisecond,
		backfillConcurrency: 8,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("coordinator")
	}
	if s.repo == nil {
		s.repo = repository.NewMemory()
	}
	if s.settings == nil {
		d := settings.Defaults()
		s.settings = settings.NewStatic(nil, d.Bands)
	}
	if s.engine == nil {
		s.engine = scoring.NewEngine(scoring.WithClock(s.now))
	}
	s.store = components.NewStore(s.repo,
		components.WithClock(s.now),
		components.WithLogger(s.logger.Named("components")),
	)
	s.locks = lock.NewTable(lock.WithShards(s.lockShards))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.eventQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	return s
}

// Start launches the ingest workers. Workers keep running when ctx is
// cancelled; only Stop ends them, after draining the queue. A stopped
// Service cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	s.workerPool = worker.NewPool(s.workerCount, s.eventQueue, worker.ProcessorFunc(s.process),
		worker.WithMaxRetries(s.maxRetries),
		worker.WithRetryBackoff(s.retryBackoff),
		worker.WithRetryable(IsRetriable),
		worker.WithFailureHandler(s.onIngestFailure),
	)
	s.workerPool.Start(ctx)
	s.started = true

	s.logger.Info(ctx, "composite service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Duration("lock_timeout", s.lockTimeout),
		logger.String("formula_version", s.engine.Version()),
	)
	return nil
}

// Stop closes the ingest queue and waits for workers to drain it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping composite service")

	err := s.workerPool.Shutdown(ctx)
	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "composite service stopped")
	return err
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueCapacity":    s.eventQueue.Cap(),
		"queueLength":      s.eventQueue.Len(ctx),
		"dedupeSize":       s.deduper.Size(),
		"lockedApplicants": s.locks.Len(),
		"formulaVersion":   s.engine.Version(),
		"lockTimeoutMs":    s.lockTimeout.Milliseconds(),
	}
	if s.workerPool != nil {
		stats["activeWorkers"] = s.workerPool.Active()
	}

	if n, err := s.repo.Count(ctx); err == nil {
		stats["totalApplicants"] = n
		metrics.UpdateTotalApplicants(n)
	} else {
		s.logger.Warn(ctx, "count applicants failed", logger.Error(err))
	}

	cur := s.settings.Current(ctx)
	stats["weights"] = cur.Weights
	stats["bands"] = cur.Bands
	return stats
}
