package components

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/internal/domain/scoring"
)

// EncodeSnapshot serializes a snapshot for storage.
func EncodeSnapshot(snap model.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = model.Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses stored snapshot JSON. Empty input is an empty
// snapshot. Entries under unrecognized keys are skipped and their names
// returned in dropped; anything structurally wrong yields ErrMalformedSnapshot.
func DecodeSnapshot(data []byte) (snap model.Snapshot, dropped []string, err error) {
	snap = model.Snapshot{}
	if len(data) == 0 {
		return snap, nil, nil
	}
	if !gjson.ValidBytes(data) {
		return model.Snapshot{}, nil, fmt.Errorf("%w: invalid json", ErrMalformedSnapshot)
	}
	root := gjson.ParseBytes(data)
	if root.Type == gjson.Null {
		return snap, nil, nil
	}
	if !root.IsObject() {
		return model.Snapshot{}, nil, fmt.Errorf("%w: top level is not an object", ErrMalformedSnapshot)
	}

	root.ForEach(func(key, value gjson.Result) bool {
		k, perr := model.ParseComponentKey(key.String())
		if perr != nil {
			dropped = append(dropped, key.String())
			return true
		}
		c, derr := decodeComponent(k, value)
		if derr != nil {
			err = derr
			return false
		}
		snap[k] = c
		return true
	})
	if err != nil {
		return model.Snapshot{}, nil, err
	}
	return snap, dropped, nil
}

func decodeComponent(k model.ComponentKey, v gjson.Result) (model.Component, error) {
	if !v.IsObject() {
		return model.Component{}, fmt.Errorf("%w: component %q is not an object", ErrMalformedSnapshot, k)
	}
	c := model.Component{Key: k}

	raw, err := optionalNumber(v, "raw")
	if err != nil {
		return model.Component{}, fmt.Errorf("%w: component %q: %w", ErrMalformedSnapshot, k, err)
	}
	c.Raw = raw

	norm, err := optionalNumber(v, "norm")
	if err != nil {
		return model.Component{}, fmt.Errorf("%w: component %q: %w", ErrMalformedSnapshot, k, err)
	}
	if norm != nil {
		n := scoring.Clamp(*norm)
		norm = &n
	}
	c.Norm = norm

	if flags := v.Get("flags"); flags.Exists() && flags.Type != gjson.Null {
		if !flags.IsArray() {
			return model.Component{}, fmt.Errorf("%w: component %q: flags is not an array", ErrMalformedSnapshot, k)
		}
		var tokens []string
		for _, f := range flags.Array() {
			if f.Type != gjson.String {
				return model.Component{}, fmt.Errorf("%w: component %q: flag is not a string", ErrMalformedSnapshot, k)
			}
			tokens = append(tokens, f.Str)
		}
		c.Flags = dedupeFlags(tokens)
	}

	if meta := v.Get("meta"); meta.IsObject() {
		if m, ok := meta.Value().(map[string]any); ok {
			c.Meta = m
		}
	}

	if ts := v.Get("updated_at"); ts.Type == gjson.String {
		t, err := time.Parse(time.RFC3339Nano, ts.Str)
		if err != nil {
			return model.Component{}, fmt.Errorf("%w: component %q: updated_at: %w", ErrMalformedSnapshot, k, err)
		}
		c.UpdatedAt = t
	}
	return c, nil
}

func optionalNumber(v gjson.Result, path string) (*float64, error) {
	f := v.Get(path)
	switch f.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		n := f.Num
		return &n, nil
	default:
		return nil, fmt.Errorf("%s is not a number", path)
	}
}
