package lock

import "errors"

// ErrTimeout is returned when an applicant lock is not acquired in time.
var ErrTimeout = errors.New("applicant lock timeout")
