package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/composite/internal/domain/components"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/metrics"
)

type memRecord struct {
	record   model.Record
	snapshot []byte
	history  []model.HistoryEntry
}

type memShard struct {
	mu      sync.RWMutex
	records map[int64]*memRecord
}

// MemoryRepository keeps records in process memory, sharded by applicant id.
// Record and history of one applicant are written under a single shard lock.
type MemoryRepository struct {
	shardCount int
	shards     []*memShard
	seq        atomic.Int64
	count      atomic.Int64
	now        func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemory creates an in-memory repository.
func NewMemory(opts ...Option) *MemoryRepository {
	r := &MemoryRepository{
		shardCount: 16,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.shards = make([]*memShard, r.shardCount)
	for i := range r.shards {
		r.shards[i] = &memShard{records: make(map[int64]*memRecord)}
	}
	return r
}

func (r *MemoryRepository) shardFor(id int64) *memShard {
	idx := id % int64(len(r.shards))
	if idx < 0 {
		idx = -idx
	}
	return r.shards[idx]
}

// Persist implements Repository.
func (r *MemoryRepository) Persist(ctx context.Context, applicantID int64, result model.Result) (model.HistoryEntry, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, err)
	}
	snap, err := components.EncodeSnapshot(result.Components)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.HistoryEntry{}, persistError(StageHistory, false, fmt.Errorf("history id: %w", err))
	}

	now := r.now()
	s := r.shardFor(applicantID)
	s.mu.Lock()
	rec, ok := s.records[applicantID]
	if !ok {
		rec = &memRecord{}
		s.records[applicantID] = rec
		r.count.Add(1)
	}
	rec.record = model.Record{ApplicantID: applicantID, Result: result.Clone(), UpdatedAt: now}
	rec.snapshot = snap
	entry := model.HistoryEntry{
		ID:          id.String(),
		ApplicantID: applicantID,
		Seq:         r.seq.Add(1),
		Result:      result.Clone(),
		RecordedAt:  now,
	}
	rec.history = append(rec.history, entry)
	s.mu.Unlock()

	metrics.RecordHistoryAppend()
	metrics.RecordPersistLatency(float64(time.Since(start).Microseconds()) / 1000)
	return cloneEntry(entry), nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, applicantID int64) (model.Record, error) {
	s := r.shardFor(applicantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[applicantID]
	if !ok {
		return model.Record{}, fmt.Errorf("%w: applicant %d", ErrNotFound, applicantID)
	}
	out := rec.record
	out.Result = out.Result.Clone()
	return out, nil
}

// History implements Repository.
func (r *MemoryRepository) History(_ context.Context, applicantID int64) ([]model.HistoryEntry, error) {
	s := r.shardFor(applicantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[applicantID]
	if !ok {
		return []model.HistoryEntry{}, nil
	}
	out := make([]model.HistoryEntry, len(rec.history))
	for i, e := range rec.history {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// LoadSnapshot implements Repository.
func (r *MemoryRepository) LoadSnapshot(_ context.Context, applicantID int64) ([]byte, error) {
	s := r.shardFor(applicantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[applicantID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(rec.snapshot), nil
}

// Applicants implements Repository.
func (r *MemoryRepository) Applicants(_ context.Context) ([]int64, error) {
	ids := make([]int64, 0, r.count.Load())
	for _, s := range r.shards {
		s.mu.RLock()
		for id := range s.records {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	slices.Sort(ids)
	return ids, nil
}

// Count implements Repository.
func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	return int(r.count.Load()), nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error { return nil }

func cloneEntry(e model.HistoryEntry) model.HistoryEntry {
	e.Result = e.Result.Clone()
	return e
}
