package repository

import "time"

// Option applies a configuration option to the MemoryRepository.
type Option func(*MemoryRepository)

// WithShardCount sets the number of shards. Values < 1 are ignored.
func WithShardCount(n int) Option {
	return func(r *MemoryRepository) {
		if n > 0 {
			r.shardCount = n
		}
	}
}

// WithClock replaces the time source used for record and history timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *MemoryRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// SQLiteOption applies a configuration option to the SQLiteRepository.
type SQLiteOption func(*SQLiteRepository)

// WithSQLiteClock replaces the time source used for record and history timestamps.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(r *SQLiteRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBusyTimeout sets the SQLite busy timeout.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(r *SQLiteRepository) {
		if d > 0 {
			r.busyTimeout = d
		}
	}
}
