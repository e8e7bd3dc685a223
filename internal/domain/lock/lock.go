// Package lock serializes work per applicant.
//
// Each applicant gets a single-slot semaphore created on first use and
// dropped once nobody holds or waits on it, so the table stays proportional
// to the number of applicants in flight rather than the number ever seen.
package lock

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/okian/composite/pkg/metrics"
)

// Release unlocks a previously acquired applicant lock. Calling it more
// than once is a no-op.
type Release func()

type entry struct {
	sem  chan struct{}
	refs int
}

type shard struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// Table hands out per-applicant locks.
type Table struct {
	shardCount int
	shards     []*shard
	seed       maphash.Seed
}

// NewTable creates a lock table.
func NewTable(opts ...Option) *Table {
	t := &Table{shardCount: 64}
	for _, opt := range opts {
		opt(t)
	}
	t.seed = maphash.MakeSeed()
	t.shards = make([]*shard, t.shardCount)
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[int64]*entry)}
	}
	return t
}

func (t *Table) shardFor(id int64) *shard {
	return t.shards[maphash.Comparable(t.seed, id)%uint64(len(t.shards))]
}

// Acquire blocks until the applicant lock is held, timeout elapses
// (ErrTimeout) or ctx is done (ctx.Err()). A timeout <= 0 waits on ctx only.
func (t *Table) Acquire(ctx context.Context, applicantID int64, timeout time.Duration) (Release, error) {
	s := t.shardFor(applicantID)
	s.mu.Lock()
	e, ok := s.entries[applicantID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[applicantID] = e
	}
	e.refs++
	s.mu.Unlock()

	start := time.Now()
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case e.sem <- struct{}{}:
		metrics.RecordLockWait(float64(time.Since(start).Microseconds()) / 1000)
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				t.unref(s, applicantID, e)
			})
		}, nil
	case <-expired:
		t.unref(s, applicantID, e)
		metrics.RecordLockTimeout()
		return nil, ErrTimeout
	case <-ctx.Done():
		t.unref(s, applicantID, e)
		return nil, ctx.Err()
	}
}

func (t *Table) unref(s *shard, id int64, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, id)
	}
}

// Len returns the number of applicants currently held or awaited.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
