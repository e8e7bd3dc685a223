// Package settings supplies the weight and band configuration read on every computation.
package settings

import (
	"context"

	"github.com/okian/composite/internal/domain/model"
)

// Settings is one consistent view of the scoring configuration.
type Settings struct {
	Weights model.WeightConfig
	Bands   model.BandConfig
}

// Defaults returns the documented fallback configuration.
func Defaults() Settings {
	return Settings{Weights: model.DefaultWeights(), Bands: model.DefaultBands()}
}

// Clone copies the weight map so callers cannot mutate shared state.
func (s Settings) Clone() Settings {
	return Settings{Weights: s.Weights.Clone(), Bands: s.Bands}
}

// Provider returns the settings to use for the next computation.
type Provider interface {
	Current(ctx context.Context) Settings
}

// Static serves a fixed configuration.
type Static struct {
	s Settings
}

// NewStatic builds a provider from loosely typed weights and bands.
// Missing keys fall back to defaults; unknown keys are ignored.
func NewStatic(weights map[string]float64, bands model.BandConfig) *Static {
	w, _ := model.ResolveWeights(weights)
	return &Static{s: Settings{Weights: w, Bands: bands}}
}

// Current returns a copy of the configured settings.
func (p *Static) Current(context.Context) Settings {
	return p.s.Clone()
}
