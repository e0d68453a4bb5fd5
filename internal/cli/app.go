package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/config"
	"github.com/roach88/mnemo/internal/dispatch"
	"github.com/roach88/mnemo/internal/embed"
	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/memory"
	"github.com/roach88/mnemo/internal/store"
	"github.com/roach88/mnemo/internal/workflow"
)

// defaultConfigFile is read from the working directory when neither
// --config nor MNEMO_CONFIG names a file.
const defaultConfigFile = "mnemo.yaml"

// app is the wired stack shared by every store-backed command: the store,
// the memory layer publishing into the dispatcher, and the workflow engine
// consuming it.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	mem        *memory.Memory
	engine     *workflow.Engine
	dispatcher *dispatch.Dispatcher

	done chan error
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path, explicit := opts.ConfigPath, opts.ConfigPath != ""
	if !explicit {
		if env := os.Getenv("MNEMO_CONFIG"); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	return cfg, nil
}

// openApp opens the store and wires memory, dispatcher and engine.
// Persisted workflows are registered. Delivery starts with start.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.DBPath,
		store.WithMaxOpenConns(cfg.MaxOpenConns),
		store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := embed.New(ctx, cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: st}

	// The dispatcher needs the engine's handler and the engine needs memory,
	// which publishes into the dispatcher.
	a.dispatcher = dispatch.New(func(ctx context.Context, ev ir.Event) error {
		return a.engine.HandleEvent(ctx, ev)
	}, dispatch.WithCapacity(cfg.QueueCapacity), dispatch.WithLogger(logger))

	memOpts := []memory.Option{
		memory.WithPublisher(a.dispatcher),
		memory.WithLogger(logger),
		memory.WithLexicalCap(cfg.Search.LexicalCap),
	}
	if embedder != nil {
		memOpts = append(memOpts, memory.WithEmbedder(embedder))
	}
	a.mem = memory.New(st, memOpts...)

	exec := workflow.NewExecutor(a.mem,
		workflow.WithExecutorLogger(logger),
		workflow.WithShellTimeout(cfg.ShellTimeout()),
		workflow.WithHTTPTimeout(cfg.HTTPTimeout()))
	a.engine = workflow.NewEngine(a.mem,
		workflow.WithExecutor(exec),
		workflow.WithWorkers(cfg.Workers),
		workflow.WithLogger(logger))

	if _, err := a.engine.LoadPersisted(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	return a, nil
}

// start runs the dispatcher in the background until close.
func (a *app) start(ctx context.Context) {
	a.done = make(chan error, 1)
	go func() {
		a.done <- a.dispatcher.Run(ctx)
	}()
}

// close drains queued events, waits for the runs they started and closes
// the store. Events published by those runs arrive after the queue is
// closed and are dropped.
func (a *app) close() {
	a.dispatcher.Close()
	if a.done != nil {
		if err := <-a.done; err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("dispatcher stopped with error", "error", err)
		}
	}
	a.engine.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// runWithApp opens the app for a one-shot command, runs fn with event
// delivery enabled and shuts everything down afterwards. Setup failures
// report ExitCommandError.
func runWithApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	f := newFormatter(cmd, opts)
	ctx := cmd.Context()

	cfg, err := loadConfig(opts)
	if err != nil {
		return outputCommandError(f, ErrCodeConfig, "failed to load config", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose, slog.LevelWarn)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return outputCommandError(f, ErrCodeConfig, "failed to open memory", err)
	}
	a.start(ctx)
	defer a.close()

	return fn(ctx, a, f)
}
