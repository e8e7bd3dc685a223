package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/composite/internal/domain/model"
	"github.com/okian/composite/pkg/logger"
)

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute <applicant-id>",
		Short: "Recompute one applicant from stored components",
		Long: `Recompute the composite of one applicant from its stored component
snapshot with the current weights and bands, and persist the result.

Examples:
  composite recompute 42
  composite recompute 42 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecompute(cmd.Context(), rootOpts, cmd.OutOrStdout(), args[0])
		},
	}
	return cmd
}

func runRecompute(ctx context.Context, opts *RootOptions, w io.Writer, arg string) error {
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

	res, err := d.svc.ForceRecompute(ctx, id)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("recompute applicant %d", id), err)
	}

	return render(w, opts.Format, res, func(w io.Writer) error {
		return writeResultText(w, id, res)
	})
}

func writeResultText(w io.Writer, id int64, res model.Result) error {
	keys := make([]string, 0, len(res.PresentKeys))
	for _, k := range res.PresentKeys {
		keys = append(keys, string(k))
	}
	_, err := fmt.Fprintf(w, "applicant %d: status=%s composite=%.2f grade=%s formula=%s present=[%s]\n",
		id, res.Status, res.Composite, res.Grade, res.FormulaVersion, strings.Join(keys, ","))
	return err
}
