package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"tablegen/internal/backend"
	config "tablegen/internal/config"
	"tablegen/internal/template"
	"tablegen/internal/utils"

	"github.com/spf13/cobra"
)

const pingTimeout = 30 * time.Second

func newValidateCommand(opts *cliOptions) *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:           "validate <job.yaml>",
		Short:         "Check a job: columns, prompt placeholders and long-text folders",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return codeToErr(runWithLogger("validate", cmd.ErrOrStderr(), func() int {
				s, err := resolveSettings(cmd, opts)
				if err != nil {
					logError(err.Error())
					return 1
				}
				return validateJob(args[0], opts, s, preview, cmd.OutOrStdout())
			}))
		},
	}
	addColumnFlags(cmd.Flags(), opts)
	cmd.Flags().IntVar(&preview, "preview", 0, "Render the prompt for the first N rows of each column")
	return cmd
}

func validateJob(jobPath string, opts *cliOptions, s settings, preview int, stdout io.Writer) int {
	w, err := loadWorkspace(jobPath, s)
	if err != nil {
		logError(err.Error())
		return 1
	}
	cols, err := w.selectColumns(opts.Columns)
	if err != nil {
		logError(err.Error())
		return 1
	}

	// Derived columns may feed later ones, so they count as known fields.
	known := w.table.Columns()
	for _, rc := range w.columns {
		known = append(known, rc.Spec.Name)
		known = append(known, rc.Spec.SubColumns()...)
	}

	code := 0
	for _, rc := range cols {
		missing := template.Validate(rc.Spec.PromptTemplate, known, w.table)
		if len(missing) > 0 {
			logError(fmt.Sprintf("column %s: unknown placeholder(s): %s", rc.Spec.Name, strings.Join(missing, ", ")))
			fmt.Fprintf(stdout, "[%s] FAIL unknown placeholder(s): %s\n", rc.Spec.Name, strings.Join(missing, ", "))
			code = 1
			continue
		}
		fmt.Fprintf(stdout, "[%s] OK %s/%s, %s output, placeholders: %s\n",
			rc.Spec.Name, rc.Target.Backend, rc.Spec.Model, rc.Spec.OutputMode,
			strings.Join(template.Placeholders(rc.Spec.PromptTemplate), ", "))
		printPromptPreview(stdout, w, rc, preview)
	}
	return code
}

func printPromptPreview(out io.Writer, w *workspace, rc config.ResolvedColumn, n int) {
	for i := 0; i < n && i < w.table.RowCount(); i++ {
		row, err := w.table.Row(i)
		if err != nil {
			return
		}
		prompt, rerr := template.Render(rc.Spec.PromptTemplate, row, i, w.table)
		fmt.Fprintf(out, "  --- row %d ---\n", i)
		if rerr != nil {
			fmt.Fprintf(out, "  (%v)\n", rerr)
		}
		fmt.Fprintln(out, utils.SanitizeOutput(prompt))
	}
}

func newPingCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "ping",
		Short:         "Send a short test prompt to the configured backend",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return codeToErr(runWithLogger("ping", cmd.ErrOrStderr(), func() int {
				s, err := resolveSettings(cmd, opts)
				if err != nil {
					logError(err.Error())
					return 1
				}
				return pingBackend(cmd.Context(), s, cmd.OutOrStdout())
			}))
		},
	}
}

func pingBackend(parent context.Context, s settings, stdout io.Writer) int {
	if parent == nil {
		parent = context.Background()
	}
	target := config.ResolveModel(s.model, s.backend)
	gen, err := newGeneratorFn(target)
	if err != nil {
		logError(fmt.Sprintf("backend %s: %v", target.Backend, err))
		return 1
	}

	ctx, cancel := context.WithTimeout(parent, pingTimeout)
	defer cancel()
	start := time.Now()
	reply, err := backend.Ping(ctx, gen, target.Model)
	if err != nil {
		logError(fmt.Sprintf("ping %s/%s: %v", gen.Name(), target.Model, err))
		return 1
	}
	fmt.Fprintf(stdout, "%s/%s: %s (%s)\n", gen.Name(), target.Model,
		utils.SafeTruncate(reply, cellPreviewRunes), time.Since(start).Round(time.Millisecond))
	return 0
}
