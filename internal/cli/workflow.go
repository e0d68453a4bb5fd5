package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/compiler"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/workflow"
)

// NewWorkflowCommand creates the workflow command group.
func NewWorkflowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage event-driven workflows",
	}
	cmd.AddCommand(newWorkflowRegisterCommand(rootOpts))
	cmd.AddCommand(newWorkflowValidateCommand(rootOpts))
	cmd.AddCommand(newWorkflowListCommand(rootOpts))
	cmd.AddCommand(newWorkflowGetCommand(rootOpts))
	cmd.AddCommand(newWorkflowDeleteCommand(rootOpts))
	cmd.AddCommand(newWorkflowToggleCommand(rootOpts, "pause", false))
	cmd.AddCommand(newWorkflowToggleCommand(rootOpts, "resume", true))
	cmd.AddCommand(newWorkflowRunsCommand(rootOpts))
	return cmd
}

func newWorkflowRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <file>",
		Short: "Compile and register workflows from a YAML or CUE file",
		Long: `Compile every workflow in the file and register it. Registering an
existing id replaces the definition.

Example:
  mnemo workflow register workflows/meetings.yaml
  mnemo workflow register workflows/triage.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			workflows, err := compiler.LoadFile(args[0])
			if err != nil {
				return outputError(f, "compile failed", err)
			}
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				ids := make([]string, 0, len(workflows))
				for _, wf := range workflows {
					registered, err := a.engine.Register(ctx, wf)
					if err != nil {
						return outputError(f, "register failed", err)
					}
					f.VerboseLog("registered %s", registered.ID)
					ids = append(ids, registered.ID)
				}
				return f.Result(map[string]any{"registered": ids}, func(w io.Writer) {
					for _, id := range ids {
						fmt.Fprintf(w, "✓ Registered %s\n", id)
					}
				})
			})
		},
	}
}

func newWorkflowValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file-or-dir>",
		Short: "Check workflow definitions without registering them",
		Long: `Compile a workflow file, or every .yaml, .yml and .cue file in a
directory, and report definition errors. The database is not opened.

Example:
  mnemo workflow validate workflows/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(cmd, rootOpts)
			path := args[0]

			info, err := os.Stat(path)
			if err != nil {
				return outputCommandError(f, ErrCodeNotFound, "path not found", err)
			}
			var workflows []ir.Workflow
			if info.IsDir() {
				workflows, err = compiler.LoadDir(path)
			} else {
				workflows, err = compiler.LoadFile(path)
			}
			if err != nil {
				return outputError(f, "validation failed", err)
			}

			ids := make([]string, len(workflows))
			for i, wf := range workflows {
				ids[i] = wf.ID
			}
			return f.Result(map[string]any{"valid": true, "workflows": ids}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ All workflows valid (%d)\n", len(ids))
			})
		},
	}
}

func newWorkflowListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List registered workflows",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				workflows := a.engine.List()
				return f.Result(workflows, func(w io.Writer) { printWorkflows(w, workflows) })
			})
		},
	}
}

func newWorkflowGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Show a workflow definition",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				wf, ok := a.engine.Get(args[0])
				if !ok {
					return outputError(f, "get workflow failed", fmt.Errorf("%w: %s", workflow.ErrNotFound, args[0]))
				}
				return f.Result(wf, func(w io.Writer) { printWorkflow(w, wf) })
			})
		},
	}
}

func newWorkflowDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Unregister a workflow; its past runs are kept",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if err := a.engine.Delete(ctx, args[0]); err != nil {
					return outputError(f, "delete workflow failed", err)
				}
				return f.Result(map[string]any{"id": args[0], "deleted": true}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Deleted workflow %s\n", args[0])
				})
			})
		},
	}
}

// newWorkflowToggleCommand builds pause (enabled=false) and resume.
func newWorkflowToggleCommand(rootOpts *RootOptions, name string, enabled bool) *cobra.Command {
	short := "Stop a workflow from matching new events"
	if enabled {
		short = "Re-enable a paused workflow"
	}
	return &cobra.Command{
		Use:           name + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				var (
					wf  ir.Workflow
					err error
				)
				if enabled {
					wf, err = a.engine.Resume(ctx, args[0])
				} else {
					wf, err = a.engine.Pause(ctx, args[0])
				}
				if err != nil {
					return outputError(f, name+" workflow failed", err)
				}
				return f.Result(wf, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Workflow %s enabled=%t\n", wf.ID, wf.Enabled)
				})
			})
		},
	}
}

func newWorkflowRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		limit    int
		showLogs bool
	)

	cmd := &cobra.Command{
		Use:   "runs [workflow-id]",
		Short: "Show recorded workflow runs, newest first",
		Long: `Show recorded runs of one workflow, or of every workflow when no id is
given.

Example:
  mnemo workflow runs tag-meetings --limit 5 --logs`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				}
				runs, err := a.engine.Runs(ctx, id)
				if err != nil {
					return outputError(f, "list runs failed", err)
				}
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
				return f.Result(runs, func(w io.Writer) {
					printRuns(w, runs)
					if !showLogs {
						return
					}
					for _, r := range runs {
						fmt.Fprintf(w, "\n%s:\n", r.ID)
						for _, line := range r.Logs {
							fmt.Fprintf(w, "  %s\n", line)
						}
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs (0 for all)")
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print run logs")
	return cmd
}
