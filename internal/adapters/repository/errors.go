package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound = errors.New("composite record not found")
	ErrPersist  = errors.New("persist composite result")
)

// Stage names the step of a persist that failed.
type Stage string

// Persist stages.
const (
	StageRecord  Stage = "record"
	StageHistory Stage = "history"
	StageCommit  Stage = "commit"
)

// PersistError reports which persist step failed. RecordWritten is true when
// the current record was durably updated before the failure, i.e. the
// history is missing an entry for the stored record.
type PersistError struct {
	Stage         Stage
	RecordWritten bool
	Err           error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: stage %s (record written: %t): %v", ErrPersist, e.Stage, e.RecordWritten, e.Err)
}

// Unwrap exposes both ErrPersist and the underlying cause to errors.Is/As.
func (e *PersistError) Unwrap() []error {
	return []error{ErrPersist, e.Err}
}

func persistError(stage Stage, recordWritten bool, err error) error {
	return &PersistError{Stage: stage, RecordWritten: recordWritten, Err: err}
}
