package service

import (
	"time"

	"github.com/okian/composite/internal/adapters/repository"
	"github.com/okian/composite/internal/domain/scoring"
	"github.com/okian/composite/internal/domain/settings"
	"github.com/okian/composite/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRepository sets the composite repository. Defaults to an in-memory one.
func WithRepository(r repository.Repository) Option {
	return func(s *Service) {
		if r != nil {
			s.repo = r
		}
	}
}

// WithSettings sets the weight/band provider. Defaults to the documented defaults.
func WithSettings(p settings.Provider) Option {
	return func(s *Service) {
		if p != nil {
			s.settings = p
		}
	}
}

// WithEngine replaces the scoring engine.
func WithEngine(e *scoring.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithLockTimeout bounds how long an update waits for the applicant lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLockShards sets the number of shards of the applicant lock table.
func WithLockShards(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lockShards = n
		}
	}
}

// WithWorkerCount sets the number of ingest workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingest queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many event ids are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxIngestRetries sets how often a worker retries a conflicting event.
func WithMaxIngestRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between worker retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.retryBackoff = d
		}
	}
}

// WithBackfillConcurrency sets the default parallelism of Backfill.
func WithBackfillConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.backfillConcurrency = n
		}
	}
}

// WithClock replaces the time source for merged components and results.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
