package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/composite/internal/adapters/mq/queue"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

// Enqueue submits an event for asynchronous ingestion. Events whose id was
// already accepted are reported as duplicates and dropped. An empty id is
// replaced with a generated one, which the returned event carries.
func (s *Service) Enqueue(ctx context.Context, e model.IngestEvent) (accepted model.IngestEvent, duplicate bool, err error) { //nolint:gocritic // hugeParam
	if err := model.ValidateApplicant(e.ApplicantID); err != nil {
		return e, false, err
	}
	k, err := model.ParseComponentKey(e.Component)
	if err != nil {
		return e, false, err
	}
	e.Component = string(k)

	if e.EventID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return e, false, fmt.Errorf("generate event id: %w", err)
		}
		e.EventID = id.String()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = s.now()
	}

	if s.deduper.SeenAndRecord(ctx, e.EventID) {
		metrics.RecordEventDuplicate()
		s.logger.Debug(ctx, "duplicate event skipped",
			logger.String("event_id", e.EventID),
			logger.Int64("applicant_id", e.ApplicantID),
		)
		return e, true, nil
	}

	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		// not queued, so a resubmission must not count as a duplicate
		s.deduper.Unrecord(ctx, e.EventID)
		return e, false, fmt.Errorf("enqueue event %s: %w", e.EventID, err)
	}
	return e, false, nil
}

func (s *Service) process(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam
	_, err := s.Ingest(ctx, e.ApplicantID, e.Component, e.Payload)
	return err
}

func (s *Service) onIngestFailure(ctx context.Context, e queue.Event, err error) { //nolint:gocritic // hugeParam
	s.deduper.Unrecord(ctx, e.EventID)
	s.logger.Warn(ctx, "event released for resubmission",
		logger.String("event_id", e.EventID),
		logger.Int64("applicant_id", e.ApplicantID),
		logger.Bool("retriable", IsRetriable(err)),
	)
}
