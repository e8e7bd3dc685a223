package model

import "sort"

// WeightConfig maps component keys to non-negative weights.
type WeightConfig map[ComponentKey]float64

// BandConfig holds the minimum composite for grades A, B and C. Anything
// below C is D.
type BandConfig struct {
	A float64 `json:"a" koanf:"a" yaml:"a"`
	B float64 `json:"b" koanf:"b" yaml:"b"`
	C float64 `json:"c" koanf:"c" yaml:"c"`
}

// DefaultWeights returns the weights used when nothing is configured.
func DefaultWeights() WeightConfig {
	return WeightConfig{
		KeyPsymetrics:  40,
		KeyAutoproctor: 20,
		KeyPhysical:    20,
		KeySkills:      20,
		KeyMedical:     0,
	}
}

// DefaultBands returns the grade thresholds used when nothing is configured.
func DefaultBands() BandConfig {
	return BandConfig{A: 85, B: 70, C: 55}
}

// Clone copies the weight map.
func (w WeightConfig) Clone() WeightConfig {
	out := make(WeightConfig, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// ResolveWeights turns loosely typed configuration into a WeightConfig.
// Recognized keys missing from raw keep their default, negative weights
// become 0, and unrecognized keys are returned in ignored.
func ResolveWeights(raw map[string]float64) (weights WeightConfig, ignored []string) {
	weights = DefaultWeights()
	for name, v := range raw {
		k, err := ParseComponentKey(name)
		if err != nil {
			ignored = append(ignored, name)
			continue
		}
		if v < 0 {
			v = 0
		}
		weights[k] = v
	}
	sort.Strings(ignored)
	return weights, ignored
}
