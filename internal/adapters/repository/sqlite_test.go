package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/composite/internal/domain/model"
)

func openTestSQLite(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "composite.db")
	repo, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func testResult(composite float64) model.Result {
	return model.Result{
		Status:           model.StatusOK,
		Composite:        composite,
		Grade:            model.GradeB,
		EffectiveWeights: model.WeightConfig{model.KeySkills: 20, model.KeyPhysical: 20},
		PresentKeys:      []model.ComponentKey{model.KeyPhysical, model.KeySkills},
		FormulaVersion:   "composite-v1",
		Components: model.Snapshot{
			model.KeySkills:   {Key: model.KeySkills, Norm: model.Float(composite)},
			model.KeyPhysical: {Key: model.KeyPhysical, Norm: model.Float(composite), Meta: map[string]any{"lane": "a"}},
		},
		ComputedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_OpenAppliesSchema(t *testing.T) {
	repo, path := openTestSQLite(t)

	var version int
	require.NoError(t, repo.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, repo.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	require.NoError(t, repo.Close())
	again, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err, "reopening an existing database is idempotent")
	require.NoError(t, again.Close())
}

func TestSQLite_PersistAndRead(t *testing.T) {
	repo, _ := openTestSQLite(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, 11)
	assert.True(t, errors.Is(err, ErrNotFound))

	first, err := repo.Persist(ctx, 11, testResult(60))
	require.NoError(t, err)
	second, err := repo.Persist(ctx, 11, testResult(80))
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)

	rec, err := repo.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 80.0, rec.Result.Composite)
	assert.Equal(t, model.StatusOK, rec.Result.Status)
	assert.Equal(t, "a", rec.Result.Components[model.KeyPhysical].Meta["lane"])
	assert.True(t, rec.Result.ComputedAt.Equal(testResult(0).ComputedAt))

	history, err := repo.History(ctx, 11)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, 60.0, history[0].Result.Composite)
	assert.Equal(t, 80.0, history[1].Result.Composite)

	data, err := repo.LoadSnapshot(ctx, 11)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"skills"`)

	none, err := repo.LoadSnapshot(ctx, 12)
	require.NoError(t, err)
	assert.Nil(t, none)

	empty, err := repo.History(ctx, 12)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSQLite_HistoryIsAppendOnly(t *testing.T) {
	repo, _ := openTestSQLite(t)
	ctx := context.Background()

	_, err := repo.Persist(ctx, 3, testResult(50))
	require.NoError(t, err)

	_, err = repo.db.Exec(`UPDATE composite_history SET composite = 99`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = repo.db.Exec(`DELETE FROM composite_history`)
	require.Error(t, err)

	history, err := repo.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 50.0, history[0].Result.Composite)
}

func TestSQLite_HistoryFailureRollsBackRecord(t *testing.T) {
	repo, _ := openTestSQLite(t)
	ctx := context.Background()

	_, err := repo.Persist(ctx, 4, testResult(40))
	require.NoError(t, err)

	_, err = repo.db.Exec(`
		CREATE TRIGGER fail_history BEFORE INSERT ON composite_history
		BEGIN SELECT RAISE(ABORT, 'history disk full'); END;
	`)
	require.NoError(t, err)

	_, err = repo.Persist(ctx, 4, testResult(90))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))

	var perr *PersistError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StageHistory, perr.Stage)
	assert.False(t, perr.RecordWritten)

	rec, err := repo.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 40.0, rec.Result.Composite, "record upsert is rolled back with the history insert")
}

func TestSQLite_ApplicantsAndCount(t *testing.T) {
	repo, _ := openTestSQLite(t)
	ctx := context.Background()

	for _, id := range []int64{9, 2, 5} {
		_, err := repo.Persist(ctx, id, testResult(10))
		require.NoError(t, err)
	}

	ids, err := repo.Applicants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5, 9}, ids)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
