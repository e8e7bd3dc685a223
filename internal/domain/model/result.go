package model

import "time"

// Status is the eligibility flag of a scoring result.
type Status string

// Scoring statuses.
const (
	StatusOK           Status = "ok"
	StatusProvisional  Status = "provisional"
	StatusHold         Status = "hold"
	StatusDisqualified Status = "disqualified"
	StatusPending      Status = "pending"
)

// Grade is the letter band of a composite score.
type Grade string

// Grades, best first.
const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Result is the derived outcome of one computation.
type Result struct {
	Status           Status         `json:"status_flag" yaml:"status_flag"`
	Composite        float64        `json:"composite" yaml:"composite"`
	Grade            Grade          `json:"grade" yaml:"grade"`
	EffectiveWeights WeightConfig   `json:"effective_weights" yaml:"effective_weights"`
	PresentKeys      []ComponentKey `json:"present_keys" yaml:"present_keys"`
	FormulaVersion   string         `json:"formula_version" yaml:"formula_version"`
	Components       Snapshot       `json:"components" yaml:"components"`
	ComputedAt       time.Time      `json:"computed_at" yaml:"computed_at"`
}

// Record is the current result of an applicant. There is one per applicant.
type Record struct {
	ApplicantID int64     `json:"applicant_id" yaml:"applicant_id"`
	Result      Result    `json:"result" yaml:"result"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// HistoryEntry is an immutable copy of a result appended on every persist.
// Seq increases strictly in append order.
type HistoryEntry struct {
	ID          string    `json:"id" yaml:"id"`
	ApplicantID int64     `json:"applicant_id" yaml:"applicant_id"`
	Seq         int64     `json:"seq" yaml:"seq"`
	Result      Result    `json:"result" yaml:"result"`
	RecordedAt  time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Clone returns a copy that shares no maps or slices with r.
func (r Result) Clone() Result {
	out := r
	if r.EffectiveWeights != nil {
		out.EffectiveWeights = r.EffectiveWeights.Clone()
	}
	if r.PresentKeys != nil {
		out.PresentKeys = append([]ComponentKey(nil), r.PresentKeys...)
	}
	out.Components = r.Components.Clone()
	return out
}
