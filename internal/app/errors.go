package service

import (
	"errors"

	"github.com/okian/composite/internal/domain/lock"
)

// Sentinel kinds for service errors.
var (
	// ErrConflict means the applicant lock could not be acquired in time.
	// The caller may retry.
	ErrConflict = errors.New("applicant is being updated, retry later")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("service stopped")
)

// IsRetriable reports whether err is a transient conflict.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, lock.ErrTimeout)
}
