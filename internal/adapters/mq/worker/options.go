package worker

import (
	"time"

	"github.com/okian/composite/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxRetries sets how many times a retriable failure is retried.
func WithMaxRetries(n int) Option {
	return func(w *InMemoryWorker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between attempts. Attempt n waits n*d.
func WithRetryBackoff(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.backoff = d
		}
	}
}

// WithRetryable decides which processing errors are worth retrying.
func WithRetryable(fn func(error) bool) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.retryable = fn
		}
	}
}

// WithFailureHandler is called once for every event the worker gives up on.
func WithFailureHandler(fn FailureHandler) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.onFailure = fn
		}
	}
}
