// Package model contains the domain types shared between the scoring layers.
package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// ComponentKey names one assessment input.
type ComponentKey string

// Recognized component keys.
const (
	KeyPsymetrics  ComponentKey = "psymetrics"
	KeyAutoproctor ComponentKey = "autoproctor"
	KeyPhysical    ComponentKey = "physical"
	KeySkills      ComponentKey = "skills"
	KeyMedical     ComponentKey = "medical"
)

// ComponentKeys lists every recognized key in scoring order.
func ComponentKeys() []ComponentKey {
	return []ComponentKey{KeyPsymetrics, KeyAutoproctor, KeyPhysical, KeySkills, KeyMedical}
}

// ParseComponentKey lower-cases and validates s.
func ParseComponentKey(s string) (ComponentKey, error) {
	k := ComponentKey(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownComponent, s)
	}
	return k, nil
}

// Valid reports whether k is one of the recognized keys.
func (k ComponentKey) Valid() bool {
	return slices.Contains(ComponentKeys(), k)
}

// ValidateApplicant returns ErrInvalidApplicant for non-positive ids.
func ValidateApplicant(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidApplicant, id)
	}
	return nil
}

// Payload is what an external collaborator submits for one component.
type Payload struct {
	Raw   *float64       `json:"raw"`
	Norm  *float64       `json:"norm"`
	Flags []string       `json:"flags"`
	Meta  map[string]any `json:"meta"`
}

// Component is the stored result of one assessment for one applicant.
// Norm is nil or within [0,100]; Flags hold no duplicates.
type Component struct {
	Key       ComponentKey   `json:"key" yaml:"key"`
	Raw       *float64       `json:"raw" yaml:"raw"`
	Norm      *float64       `json:"norm" yaml:"norm"`
	Flags     []string       `json:"flags" yaml:"flags"`
	Meta      map[string]any `json:"meta" yaml:"meta"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// HasFlag reports whether the component carries the given token.
func (c Component) HasFlag(flag string) bool {
	return slices.Contains(c.Flags, flag)
}

// Clone returns a copy that shares no slices or maps with c.
func (c Component) Clone() Component {
	out := c
	if c.Raw != nil {
		v := *c.Raw
		out.Raw = &v
	}
	if c.Norm != nil {
		v := *c.Norm
		out.Norm = &v
	}
	out.Flags = slices.Clone(c.Flags)
	out.Meta = maps.Clone(c.Meta)
	return out
}

// Snapshot maps component keys to the applicant's current components.
type Snapshot map[ComponentKey]Component

// Clone deep-copies the snapshot. A nil snapshot clones to an empty one.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, c := range s {
		out[k] = c.Clone()
	}
	return out
}

// With returns a copy of s where key is replaced by c. Other keys are untouched.
func (s Snapshot) With(c Component) Snapshot {
	out := s.Clone()
	out[c.Key] = c.Clone()
	return out
}

// Keys returns the snapshot keys in scoring order.
func (s Snapshot) Keys() []ComponentKey {
	keys := make([]ComponentKey, 0, len(s))
	for _, k := range ComponentKeys() {
		if _, ok := s[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Float returns a pointer to v, for building payloads.
func Float(v float64) *float64 {
	return &v
}
