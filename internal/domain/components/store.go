// Package components holds the per-applicant component snapshot and its merge rules.
package components

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/internal/domain/scoring"
	"github.com/okian/composite/pkg/logger"
	"github.com/okian/composite/pkg/metrics"
)

// SnapshotReader loads the stored snapshot bytes of an applicant.
// It returns nil data and a nil error when the applicant has no row.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context, applicantID int64) ([]byte, error)
}

// Store reads snapshots and merges new component payloads into them.
// It never writes: the merged snapshot is persisted with the next result.
type Store struct {
	reader SnapshotReader
	now    func() time.Time
	logger logger.Logger
}

// NewStore creates a store over reader.
func NewStore(reader SnapshotReader, opts ...Option) *Store {
	s := &Store{
		reader: reader,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("components")
	}
	return s
}

// Read returns the stored snapshot of an applicant. A missing row or data
// that fails to parse yields an empty snapshot; only invalid ids and
// storage errors are returned.
func (s *Store) Read(ctx context.Context, applicantID int64) (model.Snapshot, error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return nil, err
	}
	data, err := s.reader.LoadSnapshot(ctx, applicantID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for applicant %d: %w", applicantID, err)
	}

	snap, dropped, err := DecodeSnapshot(data)
	if err != nil {
		if errors.Is(err, ErrMalformedSnapshot) {
			metrics.RecordMalformedSnapshot()
			s.logger.Warn(ctx, "stored snapshot is malformed; continuing with an empty snapshot",
				logger.Int64("applicant_id", applicantID),
				logger.Int("bytes", len(data)),
				logger.Error(err),
			)
			return model.Snapshot{}, nil
		}
		return nil, err
	}
	if len(dropped) > 0 {
		s.logger.Warn(ctx, "stored snapshot has unrecognized components; dropping them",
			logger.Int64("applicant_id", applicantID),
			logger.Any("keys", dropped),
		)
	}
	return snap, nil
}

// Merge replaces the component under key with one built from payload and
// returns the merged snapshot. Other components are untouched.
func (s *Store) Merge(ctx context.Context, applicantID int64, key string, payload model.Payload) (model.Snapshot, error) {
	if err := model.ValidateApplicant(applicantID); err != nil {
		return nil, err
	}
	k, err := model.ParseComponentKey(key)
	if err != nil {
		return nil, err
	}
	current, err := s.Read(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	return current.With(BuildComponent(k, payload, s.now())), nil
}

// BuildComponent normalizes a payload: norm is clamped, non-finite raw and
// norm values are dropped, flags are trimmed and deduplicated in first-seen
// order.
func BuildComponent(key model.ComponentKey, p model.Payload, now time.Time) model.Component {
	c := model.Component{
		Key:       key,
		Flags:     dedupeFlags(p.Flags),
		UpdatedAt: now,
	}
	if p.Raw != nil && finite(*p.Raw) {
		v := *p.Raw
		c.Raw = &v
	}
	if p.Norm != nil && finite(*p.Norm) {
		v := scoring.Clamp(*p.Norm)
		c.Norm = &v
	}
	if len(p.Meta) > 0 {
		c.Meta = make(map[string]any, len(p.Meta))
		for k, v := range p.Meta {
			c.Meta[k] = v
		}
	}
	return c
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func dedupeFlags(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Normalize applies the merge rules to a caller-supplied snapshot: entries
// under unrecognized keys are dropped (and returned), norms are clamped and
// flags deduplicated. Timestamps are kept. When several keys differ only in
// case, the lower-case spelling wins, otherwise the first in sorted order;
// the losers are returned as dropped.
func Normalize(snap model.Snapshot) (model.Snapshot, []string) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	out := make(model.Snapshot, len(snap))
	from := make(map[model.ComponentKey]string, len(snap))
	var dropped []string
	for _, name := range keys {
		key, err := model.ParseComponentKey(name)
		if err != nil {
			dropped = append(dropped, name)
			continue
		}
		if prev, ok := from[key]; ok {
			if prev == string(key) || name != string(key) {
				dropped = append(dropped, name)
				continue
			}
			dropped = append(dropped, prev)
		}
		c := snap[model.ComponentKey(name)]
		out[key] = BuildComponent(key, model.Payload{
			Raw:   c.Raw,
			Norm:  c.Norm,
			Flags: c.Flags,
			Meta:  c.Meta,
		}, c.UpdatedAt)
		from[key] = name
	}
	sort.Strings(dropped)
	return out, dropped
}
