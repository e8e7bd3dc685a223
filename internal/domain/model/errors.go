package model

import "errors"

// Sentinel validation errors shared by every layer that accepts applicant input.
var (
	ErrInvalidApplicant = errors.New("invalid applicant id")
	ErrUnknownComponent = errors.New("unknown component key")
)
