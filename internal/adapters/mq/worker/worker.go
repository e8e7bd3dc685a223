// Package worker drains the ingest queue and applies events to the coordinator.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/composite/internal/adapters/mq/queue"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 50 * time.Millisecond
	poolShutdownTimeout     = 30 * time.Second
)

// Processor applies one event.
type Processor interface {
	Process(ctx context.Context, e queue.Event) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, e queue.Event) error

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam
	return f(ctx, e)
}

// FailureHandler receives events that could not be processed.
type FailureHandler func(ctx context.Context, e queue.Event, err error)

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Event
}

// InMemoryWorker processes events from a queue.
type InMemoryWorker struct {
	queue     Queue
	processor Processor
	name      string

	maxRetries int
	backoff    time.Duration
	retryable  func(error) bool
	onFailure  FailureHandler

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker.
func NewInMemoryWorker(q Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		processor:  p,
		name:       "worker",
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
		retryable:  func(error) bool { return false },
		onFailure:  func(context.Context, queue.Event, error) {},
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run processes events until the queue is closed and drained, ctx is
// cancelled, or Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			w.handle(ctx, e)
		}
	}
}

// Shutdown stops the worker without draining and waits for it to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) handle(ctx context.Context, e queue.Event) { //nolint:gocritic // hugeParam
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	err := w.attempt(ctx, e)
	if err == nil {
		return
	}

	metrics.RecordWorkerError()
	metrics.RecordErrorByComponent("worker", "process")
	w.logger.Error(ctx, "giving up on event",
		logger.String("event_id", e.EventID),
		logger.Int64("applicant_id", e.ApplicantID),
		logger.String("component", e.Component),
		logger.Error(err),
	)
	w.onFailure(ctx, e, err)
}

// attempt runs the processor, retrying retriable failures with linear backoff.
func (w *InMemoryWorker) attempt(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam
	for attempt := 0; ; attempt++ {
		err := w.processor.Process(ctx, e)
		if err == nil || attempt >= w.maxRetries || !w.retryable(err) {
			return err
		}
		metrics.RecordWorkerRetry()
		w.logger.Warn(ctx, "retrying event",
			logger.String("event_id", e.EventID),
			logger.Int64("applicant_id", e.ApplicantID),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)

		timer := time.NewTimer(time.Duration(attempt+1) * w.backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (after %v)", ctx.Err(), err)
		}
	}
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	active  atomic.Int32
	cancel  context.CancelFunc
	logger  logger.Logger
}

// NewPool creates workerCount workers sharing opts. A count < 1 uses a
// multiple of the CPU count.
func NewPool(workerCount int, q Queue, p Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range pool.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, p, wopts...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Active returns the number of running workers.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Start launches every worker. The workers outlive ctx: they keep its
// values but stop only through Shutdown, so buffered events are not lost
// when the caller's context is cancelled first.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for _, w := range p.workers {
		p.active.Add(1)
		metrics.UpdateWorkerActiveCount(int(p.active.Load()))
		go func(w *InMemoryWorker) {
			defer func() {
				metrics.UpdateWorkerActiveCount(int(p.active.Add(-1)))
			}()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue and lets workers drain it. Workers still
// running when ctx (or the pool timeout) expires are cancelled and stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		defer p.cancel()
	}
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			if !timedOut && p.cancel != nil {
				p.cancel()
			}
			timedOut = true
			p.logger.Warn(ctx, "worker did not drain in time", logger.Int("worker_id", i))
			_ = w.Shutdown(context.Background())
		}
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
