// Package repository stores current composite records and their append-only history.
package repository

import (
	"context"

	"github.com/okian/composite/internal/domain/model"
)

// Repository persists composite results.
type Repository interface {
	// Persist upserts the applicant's current record and appends a history
	// entry, unconditionally. It returns the appended entry.
	Persist(ctx context.Context, applicantID int64, result model.Result) (model.HistoryEntry, error)

	// Get returns the current record or ErrNotFound.
	Get(ctx context.Context, applicantID int64) (model.Record, error)

	// History returns every entry of the applicant, oldest first.
	// Unknown applicants have an empty history.
	History(ctx context.Context, applicantID int64) ([]model.HistoryEntry, error)

	// LoadSnapshot returns the encoded component snapshot stored with the
	// current record, or nil when there is none.
	LoadSnapshot(ctx context.Context, applicantID int64) ([]byte, error)

	// Applicants lists every applicant with a record, ascending.
	Applicants(ctx context.Context) ([]int64, error)

	// Count returns the number of applicants with a record.
	Count(ctx context.Context) (int, error)

	Close() error
}
