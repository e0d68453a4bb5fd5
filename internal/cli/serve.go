package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mnemo/internal/workflow"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	WorkflowsDir string
	NoWatch      bool
	Debounce     time.Duration
}

// ServeSummary is reported when serve exits.
type ServeSummary struct {
	Workflows int   `json:"workflows"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine until interrupted",
		Long: `Open the memory store, register persisted workflows and every workflow
file in --workflows, and run the event dispatcher and workflow engine until
SIGINT or SIGTERM. The workflows directory is watched and files are
re-registered when they change.

Example:
  mnemo serve --db ./mnemo.db --workflows ./workflows
  mnemo serve --workflows ./workflows --no-watch --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.WorkflowsDir, "workflows", "", "directory of workflow files (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "load the workflows directory once without watching it")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", workflow.DefaultDebounce, "delay before reloading a changed workflow file")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	f := newFormatter(cmd, opts.RootOptions)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, slog.LevelInfo)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return outputCommandError(f, ErrCodeConfig, "failed to load config", err)
	}
	if opts.WorkflowsDir != "" {
		cfg.WorkflowsDir = opts.WorkflowsDir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening database", "path", cfg.DBPath)
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return outputCommandError(f, ErrCodeConfig, "failed to open memory", err)
	}
	defer func() {
		// In-flight runs see the cancelled context and end before the store
		// closes.
		a.engine.Wait()
		if err := a.store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	var watcher *workflow.Watcher
	if cfg.WorkflowsDir != "" {
		watcher = workflow.NewWatcher(a.engine, cfg.WorkflowsDir, opts.Debounce, logger)
		n, err := watcher.LoadAll(ctx)
		if err != nil {
			// Broken files are reported; the rest keep serving.
			logger.Warn("some workflow files failed to load", "dir", cfg.WorkflowsDir, "error", err)
		}
		logger.Info("loaded workflow directory", "dir", cfg.WorkflowsDir, "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(gctx)
	})
	if watcher != nil && !opts.NoWatch {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	logger.Info("mnemo serving", "workflows", len(a.engine.List()), "workers", cfg.Workers)
	// Errors after shutdown was requested are cancellation fallout.
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return outputError(f, "serve failed", err)
	}
	logger.Info("mnemo stopped")

	summary := ServeSummary{
		Workflows: len(a.engine.List()),
		Delivered: a.dispatcher.Delivered(),
		Dropped:   a.dispatcher.Dropped(),
	}
	return f.Result(summary, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Stopped after delivering %d events (%d dropped)\n", summary.Delivered, summary.Dropped)
	})
}
