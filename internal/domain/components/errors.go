package components

import "errors"

// ErrMalformedSnapshot reports stored snapshot data that cannot be parsed.
// Read absorbs it; DecodeSnapshot returns it.
var ErrMalformedSnapshot = errors.New("malformed component snapshot")
