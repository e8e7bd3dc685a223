package model

import "time"

// IngestEvent is a component payload submitted for asynchronous processing.
// EventID makes resubmission idempotent.
type IngestEvent struct {
	EventID     string    `json:"event_id"`
	ApplicantID int64     `json:"applicant_id"`
	Component   string    `json:"component"`
	Payload     Payload   `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}
