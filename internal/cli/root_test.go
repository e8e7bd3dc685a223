package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/okian/composite/internal/adapters/repository"
	service "github.com/okian/composite/internal/app"
	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedDatabase stores one ingest for each id in a fresh SQLite file.
func seedDatabase(t *testing.T, ids ...int64) string {
	t.Helper()
	require.NoError(t, logger.Init(logger.WithOutput(io.Discard)))

	path := filepath.Join(t.TempDir(), "composite.db")
	ctx := context.Background()
	repo, err := repository.OpenSQLite(ctx, path)
	require.NoError(t, err)

	svc := service.New(service.WithRepository(repo))
	for _, id := range ids {
		_, err := svc.UpdateComponentAndRecompute(ctx, id, "skills", model.Payload{Norm: model.Float(80)})
		require.NoError(t, err)
	}
	require.NoError(t, repo.Close())

	t.Setenv("COMPOSITE_DATABASE_PATH", path)
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "composite", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"serve", "recompute", "backfill", "history"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	backfill, _, err := cmd.Find([]string{"backfill"})
	require.NoError(t, err)
	assert.NotNil(t, backfill.Flags().Lookup("concurrency"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "history", "1", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidApplicantArgument(t *testing.T) {
	seedDatabase(t)

	_, err := execute(t, "recompute", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "recompute", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidApplicant)
}

func TestRecomputeAndHistory(t *testing.T) {
	seedDatabase(t, 42)

	out, err := execute(t, "recompute", "42", "--format", "json")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "provisional", res["status_flag"])
	assert.Equal(t, 80.0, res["composite"])
	assert.Equal(t, "B", res["grade"])

	out, err = execute(t, "history", "42", "--format", "yaml")
	require.NoError(t, err)

	var entries []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, 42, entries[0]["applicant_id"])

	out, err = execute(t, "history", "42")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SEQ"))
	assert.Contains(t, lines[2], "provisional")
}

func TestHistoryOfUnknownApplicant(t *testing.T) {
	seedDatabase(t)

	out, err := execute(t, "history", "7")
	require.NoError(t, err)
	assert.Equal(t, "No history for applicant 7\n", out)
}

func TestBackfill(t *testing.T) {
	seedDatabase(t, 1, 2, 3)

	t.Run("all applicants", func(t *testing.T) {
		out, err := execute(t, "backfill", "--format", "json", "--concurrency", "2")
		require.NoError(t, err)

		var report BackfillOutput
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 3, report.Total)
		assert.Equal(t, 3, report.Succeeded)
		assert.Empty(t, report.Failed)
	})

	t.Run("text output", func(t *testing.T) {
		out, err := execute(t, "backfill", "1", "2")
		require.NoError(t, err)
		assert.Equal(t, "backfill: 2/2 succeeded\n", out)
	})
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "boom", assert.AnError)))
}
