package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/composite/internal/domain/components"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/metrics"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions:
// 1 - history lookup index on (applicant_id, seq)
const currentSchemaVersion = 1

// SQLiteRepository persists records and history in a SQLite database.
// Record upsert and history append share one transaction.
type SQLiteRepository struct {
	db          *sql.DB
	now         func() time.Time
	busyTimeout time.Duration
}

var _ Repository = (*SQLiteRepository)(nil)

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteRepository, error) {
	r := &SQLiteRepository{
		now:         time.Now,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// one writer; avoids SQLITE_BUSY between our own connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, r.busyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	r.db = db
	return r, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("execute %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.ExecContext(ctx, `
			CREATE INDEX IF NOT EXISTS idx_composite_history_applicant
			ON composite_history(applicant_id, seq)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Persist implements Repository.
func (r *SQLiteRepository) Persist(ctx context.Context, applicantID int64, result model.Result) (model.HistoryEntry, error) {
	start := time.Now()
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, fmt.Errorf("encode result: %w", err))
	}
	snapJSON, err := components.EncodeSnapshot(result.Components)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.HistoryEntry{}, persistError(StageHistory, false, fmt.Errorf("history id: %w", err))
	}
	now := r.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO composite_records
		(applicant_id, status, composite, grade, formula_version, result, components, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(applicant_id) DO UPDATE SET
			status = excluded.status,
			composite = excluded.composite,
			grade = excluded.grade,
			formula_version = excluded.formula_version,
			result = excluded.result,
			components = excluded.components,
			updated_at = excluded.updated_at
	`,
		applicantID,
		string(result.Status),
		result.Composite,
		string(result.Grade),
		result.FormulaVersion,
		string(resultJSON),
		string(snapJSON),
		stamp,
	)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageRecord, false, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO composite_history
		(id, applicant_id, status, composite, grade, result, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		applicantID,
		string(result.Status),
		result.Composite,
		string(result.Grade),
		string(resultJSON),
		stamp,
	)
	if err != nil {
		return model.HistoryEntry{}, persistError(StageHistory, false, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.HistoryEntry{}, persistError(StageHistory, false, err)
	}

	if err := tx.Commit(); err != nil {
		return model.HistoryEntry{}, persistError(StageCommit, false, err)
	}

	metrics.RecordHistoryAppend()
	metrics.RecordPersistLatency(float64(time.Since(start).Microseconds()) / 1000)
	return model.HistoryEntry{
		ID:          id.String(),
		ApplicantID: applicantID,
		Seq:         seq,
		Result:      result.Clone(),
		RecordedAt:  now,
	}, nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, applicantID int64) (model.Record, error) {
	var resultJSON, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT result, updated_at FROM composite_records WHERE applicant_id = ?
	`, applicantID).Scan(&resultJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, fmt.Errorf("%w: applicant %d", ErrNotFound, applicantID)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("get record %d: %w", applicantID, err)
	}

	rec := model.Record{ApplicantID: applicantID}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return model.Record{}, fmt.Errorf("decode record %d: %w", applicantID, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return model.Record{}, fmt.Errorf("decode record %d: %w", applicantID, err)
	}
	return rec, nil
}

// History implements Repository.
func (r *SQLiteRepository) History(ctx context.Context, applicantID int64) ([]model.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, result, recorded_at
		FROM composite_history
		WHERE applicant_id = ?
		ORDER BY seq ASC
	`, applicantID)
	if err != nil {
		return nil, fmt.Errorf("query history %d: %w", applicantID, err)
	}
	defer rows.Close()

	entries := []model.HistoryEntry{}
	for rows.Next() {
		var (
			e                    model.HistoryEntry
			resultJSON, recorded string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &resultJSON, &recorded); err != nil {
			return nil, fmt.Errorf("scan history %d: %w", applicantID, err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", e.ID, err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recorded); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", e.ID, err)
		}
		e.ApplicantID = applicantID
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history %d: %w", applicantID, err)
	}
	return entries, nil
}

// LoadSnapshot implements Repository.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, applicantID int64) ([]byte, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT components FROM composite_records WHERE applicant_id = ?
	`, applicantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %d: %w", applicantID, err)
	}
	return []byte(data), nil
}

// Applicants implements Repository.
func (r *SQLiteRepository) Applicants(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT applicant_id FROM composite_records ORDER BY applicant_id`)
	if err != nil {
		return nil, fmt.Errorf("list applicants: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan applicant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count implements Repository.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM composite_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
