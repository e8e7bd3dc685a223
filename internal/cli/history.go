package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <applicant-id>",
		Short: "Print the result history of an applicant",
		Long: `Print every result persisted for an applicant, oldest first.

Examples:
  composite history 42
  composite history 42 --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), rootOpts, cmd.OutOrStdout(), args[0])
		},
	}
	return cmd
}

func runHistory(ctx context.Context, opts *RootOptions, w io.Writer, arg string) error {
	id, err := parseApplicantID(arg)
	if err != nil {
		return err
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

	entries, err := d.svc.GetHistory(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("history of applicant %d", id), err)
	}

	return render(w, opts.Format, entries, func(w io.Writer) error {
		return writeHistoryText(w, id, entries)
	})
}

func writeHistoryText(w io.Writer, id int64, entries []model.HistoryEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintf(w, "No history for applicant %d\n", id)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRECORDED AT\tSTATUS\tCOMPOSITE\tGRADE\tFORMULA")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%s\t%s\n",
			e.Seq, e.RecordedAt.UTC().Format(time.RFC3339), e.Result.Status,
			e.Result.Composite, e.Result.Grade, e.Result.FormulaVersion)
	}
	return tw.Flush()
}
