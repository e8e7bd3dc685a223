// Package scoring turns a component snapshot into a composite eligibility result.
//
// Compute is pure: it reads only its arguments and the engine clock, never
// global configuration, and it has no error path.
package scoring

import (
	"math"
	"time"

	"github.com/okian/composite/internal/domain/model"
)

// FormulaVersion identifies the rules implemented by Compute.
const FormulaVersion = "composite-v1"

// Knockout flags.
const (
	FlagCandidnessInvalid = "candidness_invalid"
	FlagCandidnessFlagged = "candidness_flagged"
	FlagIntegritySevere   = "integrity_severe"
	FlagNotCleared        = "not_cleared"
)

const (
	minNorm = 0
	maxNorm = 100

	// provisionalMinComponents is the number of present components an ok
	// result needs to stay ok.
	provisionalMinComponents = 4
)

// Engine computes scoring results.
type Engine struct {
	version string
	now     func() time.Time
}

// NewEngine creates an engine stamped with FormulaVersion.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		version: FormulaVersion,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Version returns the formula version stamped on results.
func (e *Engine) Version() string {
	return e.version
}

// Compute derives a result from snap using the given weights and bands.
// The returned result owns a private copy of snap.
func (e *Engine) Compute(snap model.Snapshot, weights model.WeightConfig, bands model.BandConfig) model.Result {
	status := knockout(snap)

	norms := make(map[model.ComponentKey]float64, len(snap))
	present := make([]model.ComponentKey, 0, len(snap))
	for _, k := range model.ComponentKeys() {
		c, ok := snap[k]
		if !ok || !numeric(c.Norm) {
			continue
		}
		norms[k] = Clamp(*c.Norm)
		present = append(present, k)
	}

	res := model.Result{
		PresentKeys:      present,
		FormulaVersion:   e.version,
		Components:       snap.Clone(),
		ComputedAt:       e.now(),
		EffectiveWeights: model.WeightConfig{},
	}

	if len(present) == 0 {
		res.Status = model.StatusPending
		res.Composite = 0
		res.Grade = Grade(0, bands)
		return res
	}

	active := make(model.WeightConfig, len(present))
	var sumActive float64
	for _, k := range present {
		w := weights[k]
		if !numeric(&w) || w < 0 {
			w = 0
		}
		active[k] = w
		sumActive += w
	}

	if status == model.StatusOK && len(present) < provisionalMinComponents {
		status = model.StatusProvisional
	}
	res.Status = status

	if status == model.StatusDisqualified {
		// Configured weights, not the redistributed ones.
		res.EffectiveWeights = active
		res.Composite = 0
		res.Grade = Grade(0, bands)
		return res
	}

	used := active
	if sumActive <= 0 {
		used = make(model.WeightConfig, len(present))
		share := 100 / float64(len(present))
		for _, k := range present {
			used[k] = share
		}
		sumActive = 100
	}

	var composite float64
	for _, k := range present {
		composite += used[k] / sumActive * norms[k]
	}
	res.Composite = Clamp(Round2(composite))
	res.EffectiveWeights = used
	res.Grade = Grade(res.Composite, bands)
	return res
}

// knockout applies the flag rules in priority order.
func knockout(snap model.Snapshot) model.Status {
	if c, ok := snap[model.KeyPsymetrics]; ok && (c.HasFlag(FlagCandidnessInvalid) || c.HasFlag(FlagCandidnessFlagged)) {
		return model.StatusDisqualified
	}
	if c, ok := snap[model.KeyAutoproctor]; ok && c.HasFlag(FlagIntegritySevere) {
		return model.StatusHold
	}
	if c, ok := snap[model.KeyMedical]; ok && c.HasFlag(FlagNotCleared) {
		return model.StatusHold
	}
	return model.StatusOK
}

// Grade maps a composite to its letter band.
func Grade(composite float64, bands model.BandConfig) model.Grade {
	switch {
	case composite >= bands.A:
		return model.GradeA
	case composite >= bands.B:
		return model.GradeB
	case composite >= bands.C:
		return model.GradeC
	default:
		return model.GradeD
	}
}

// Clamp bounds n to [0,100]. NaN clamps to 0.
func Clamp(n float64) float64 {
	if math.IsNaN(n) {
		return minNorm
	}
	return math.Max(minNorm, math.Min(maxNorm, n))
}

// Round2 rounds half away from zero to two decimals.
func Round2(n float64) float64 {
	return math.Round(n*100) / 100
}

func numeric(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
