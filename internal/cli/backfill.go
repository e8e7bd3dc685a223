package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/okian/composite/pkg/logger"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Concurrency int
}

// BackfillOutput is the rendered backfill report.
type BackfillOutput struct {
	Total     int              `json:"total" yaml:"total"`
	Succeeded int              `json:"succeeded" yaml:"succeeded"`
	Failed    map[int64]string `json:"failed" yaml:"failed"`
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill [applicant-id...]",
		Short: "Recompute many applicants from stored components",
		Long: `Recompute applicants from their stored snapshots, a bounded number at a
time. Without ids every applicant with a record is recomputed, which is how a
new formula version or new weights are rolled out.

The command exits with status 1 when any applicant failed.

Examples:
  composite backfill
  composite backfill 1 2 3 --concurrency 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context(), opts, cmd.OutOrStdout(), args)
		},
	}

	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "applicants recomputed in parallel (default from config)")

	return cmd
}

func runBackfill(ctx context.Context, opts *BackfillOptions, w io.Writer, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseApplicantID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	d, err := buildDeps(ctx, opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Get().Warn(ctx, "close repository failed", logger.Error(err))
		}
	}()

	report, err := d.svc.Backfill(ctx, ids, opts.Concurrency)
	if err != nil {
		return WrapExitError(ExitCommandError, "backfill failed", err)
	}

	out := BackfillOutput{Total: report.Total, Succeeded: report.Succeeded, Failed: report.FailedIDs()}
	if err := render(w, opts.Format, out, func(w io.Writer) error {
		return writeBackfillText(w, out)
	}); err != nil {
		return err
	}

	if len(out.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d applicants failed", len(out.Failed), out.Total))
	}
	return nil
}

func writeBackfillText(w io.Writer, out BackfillOutput) error {
	if _, err := fmt.Fprintf(w, "backfill: %d/%d succeeded\n", out.Succeeded, out.Total); err != nil {
		return err
	}
	ids := make([]int64, 0, len(out.Failed))
	for id := range out.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if _, err := fmt.Fprintf(w, "  applicant %d: %s\n", id, out.Failed[id]); err != nil {
			return err
		}
	}
	return nil
}
