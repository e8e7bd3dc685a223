package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/composite/internal/adapters/repository"
	"github.com/okian/composite/internal/domain/components"
	"github.com/okian/composite/internal/domain/lock"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

// Recompute triggers, used as a metric label.
const (
	triggerIngest    = "ingest"
	triggerUpdate    = "update"
	triggerRecompute = "recompute"
	triggerBackfill  = "backfill"
)

// Ingest merges one component payload and recomputes the applicant.
func (s *Service) Ingest(ctx context.Context, applicantID int64, key string, payload model.Payload) (model.Result, error) {
	res, err := s.updateComponent(ctx, applicantID, key, payload, triggerIngest)
	if err == nil {
		metrics.RecordIngest(key)
	}
	return res, err
}

// UpdateComponentAndRecompute merges, computes and persists as one step
// under the applicant lock.
func (s *Service) UpdateComponentAndRecompute(ctx context.Context, applicantID int64, key string, payload model.Payload) (model.Result, error) {
	return s.updateComponent(ctx, applicantID, key, payload, triggerUpdate)
}

func (s *Service) updateComponent(ctx context.Context, applicantID int64, key string, payload model.Payload, trigger string) (model.Result, error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return model.Result{}, err
	}
	k, err := model.ParseComponentKey(key)
	if err != nil {
		return model.Result{}, err
	}

	var res model.Result
	err = s.withApplicantLock(ctx, applicantID, func() error {
		snap, err := s.store.Merge(ctx, applicantID, string(k), payload)
		if err != nil {
			return err
		}
		res, err = s.computeAndPersist(ctx, applicantID, snap, trigger)
		return err
	})
	return res, err
}

// RecomputeNow re-derives and persists the applicant's result from the
// supplied snapshot, or from the stored one when components is nil.
func (s *Service) RecomputeNow(ctx context.Context, applicantID int64, snap model.Snapshot) (model.Result, error) {
	return s.recompute(ctx, applicantID, snap, triggerRecompute)
}

// ForceRecompute recomputes from the stored snapshot.
func (s *Service) ForceRecompute(ctx context.Context, applicantID int64) (model.Result, error) {
	return s.recompute(ctx, applicantID, nil, triggerRecompute)
}

func (s *Service) recompute(ctx context.Context, applicantID int64, supplied model.Snapshot, trigger string) (model.Result, error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return model.Result{}, err
	}

	var res model.Result
	err := s.withApplicantLock(ctx, applicantID, func() error {
		snap := supplied
		if snap == nil {
			var err error
			if snap, err = s.store.Read(ctx, applicantID); err != nil {
				return err
			}
		} else {
			var dropped []string
			snap, dropped = components.Normalize(snap)
			if len(dropped) > 0 {
				s.logger.Warn(ctx, "ignoring unknown or duplicate components in supplied snapshot",
					logger.Int64("applicant_id", applicantID),
					logger.Any("keys", dropped),
				)
			}
		}
		var err error
		res, err = s.computeAndPersist(ctx, applicantID, snap, trigger)
		return err
	})
	return res, err
}

// computeAndPersist must run under the applicant lock.
func (s *Service) computeAndPersist(ctx context.Context, applicantID int64, snap model.Snapshot, trigger string) (model.Result, error) {
	start := time.Now()
	cfg := s.settings.Current(ctx)
	res := s.engine.Compute(snap, cfg.Weights, cfg.Bands)

	entry, err := s.repo.Persist(ctx, applicantID, res)
	if err != nil {
		stage := "unknown"
		var perr *repository.PersistError
		if errors.As(err, &perr) {
			stage = string(perr.Stage)
		}
		metrics.RecordPersistError(stage)
		metrics.RecordErrorByComponent("coordinator", "persist")
		s.logger.Error(ctx, "persist failed",
			logger.Int64("applicant_id", applicantID),
			logger.String("stage", stage),
			logger.String("status", string(res.Status)),
			logger.Error(err),
		)
		return model.Result{}, fmt.Errorf("persist applicant %d: %w", applicantID, err)
	}

	metrics.RecordRecompute(string(res.Status), trigger, res.Composite)
	metrics.RecordRecomputeLatency(float64(time.Since(start).Microseconds()) / 1000)
	s.logger.Debug(ctx, "recomputed",
		logger.Int64("applicant_id", applicantID),
		logger.String("trigger", trigger),
		logger.String("status", string(res.Status)),
		logger.Float64("composite", res.Composite),
		logger.String("grade", string(res.Grade)),
		logger.Int64("seq", entry.Seq),
	)
	return res, nil
}

// withApplicantLock runs fn while holding the applicant lock. The lock is
// released when fn returns, whether it failed or not.
func (s *Service) withApplicantLock(ctx context.Context, applicantID int64, fn func() error) error {
	release, err := s.locks.Acquire(ctx, applicantID, s.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			metrics.RecordErrorByComponent("coordinator", "lock_timeout")
			s.logger.Warn(ctx, "applicant lock timeout",
				logger.Int64("applicant_id", applicantID),
				logger.Duration("timeout", s.lockTimeout),
			)
			return fmt.Errorf("%w: applicant %d: %w", ErrConflict, applicantID, err)
		}
		return fmt.Errorf("acquire lock for applicant %d: %w", applicantID, err)
	}
	defer release()
	return fn()
}

// GetCurrent returns the applicant's current record. ok is false when the
// applicant has never been computed.
func (s *Service) GetCurrent(ctx context.Context, applicantID int64) (rec model.Record, ok bool, err error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return model.Record{}, false, err
	}
	rec, err = s.repo.Get(ctx, applicantID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return rec, true, nil
}

// GetHistory returns every persisted result of the applicant, oldest first.
func (s *Service) GetHistory(ctx context.Context, applicantID int64) ([]model.HistoryEntry, error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, applicantID)
}
