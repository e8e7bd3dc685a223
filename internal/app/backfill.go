package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// BackfillReport summarizes a Backfill run.
type BackfillReport struct {
	Total     int             `json:"total" yaml:"total"`
	Succeeded int             `json:"succeeded" yaml:"succeeded"`
	Failed    map[int64]error `json:"-" yaml:"-"`
}

// FailedIDs returns failure messages keyed by applicant id, for output.
func (r BackfillReport) FailedIDs() map[int64]string {
	out := make(map[int64]string, len(r.Failed))
	for id, err := range r.Failed {
		out[id] = err.Error()
	}
	return out
}

// Backfill recomputes every id from its stored snapshot with at most
// concurrency applicants in flight. No ids means every applicant with a
// record. Per-applicant failures are collected in the report; only a
// failure to list applicants is returned as an error.
func (s *Service) Backfill(ctx context.Context, ids []int64, concurrency int) (BackfillReport, error) {
	if len(ids) == 0 {
		all, err := s.repo.Applicants(ctx)
		if err != nil {
			return BackfillReport{}, fmt.Errorf("list applicants: %w", err)
		}
		ids = all
	}
	if concurrency <= 0 {
		concurrency = s.backfillConcurrency
	}

	report := BackfillReport{Total: len(ids), Failed: make(map[int64]error)}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, concurrency)
	)

	s.logger.Info(ctx, "backfill started",
		logger.Int("applicants", len(ids)),
		logger.Int("concurrency", concurrency),
	)
	for _, id := range ids {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			report.Failed[id] = ctx.Err()
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			var err error
			if err = model.ValidateApplicant(id); err == nil {
				_, err = s.recompute(ctx, id, nil, triggerBackfill)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[id] = err
				return
			}
			report.Succeeded++
		}(id)
	}
	wg.Wait()

	s.logger.Info(ctx, "backfill finished",
		logger.Int("total", report.Total),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", len(report.Failed)),
	)
	return report, nil
}
