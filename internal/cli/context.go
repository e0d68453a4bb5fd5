package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// ContextOptions holds flags for context subcommands.
type ContextOptions struct {
	*RootOptions
	ID        string
	Type      string
	Content   string
	File      string
	Summary   string
	Topics    []string
	EntityIDs []string
	Metadata  string
	Limit     int
	Types     []string
}

// NewContextCommand creates the context command group.
func NewContextCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Save and search conversation contexts",
	}
	cmd.AddCommand(newContextSaveCommand(rootOpts))
	cmd.AddCommand(newContextGetCommand(rootOpts))
	cmd.AddCommand(newContextSearchCommand(rootOpts))
	cmd.AddCommand(newContextRelatedCommand(rootOpts))
	return cmd
}

func newContextSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save a context",
		Long: `Save a meeting, handoff, debug session or other context. Content is
taken from --content or read from --file.

Example:
  mnemo context save --type meeting --file standup.md --topics planning
  echo "switched to sqlite-vec" | mnemo context save --type handoff --file -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				meta, err := parseObject("metadata", opts.Metadata)
				if err != nil {
					return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
				}
				content, err := readContent(opts.Content, opts.File, cmd.InOrStdin())
				if err != nil {
					return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
				}
				saved, err := a.mem.SaveContext(ctx, ir.Context{
					ID:        opts.ID,
					Type:      ir.ContextType(opts.Type),
					Content:   content,
					Summary:   opts.Summary,
					Topics:    opts.Topics,
					EntityIDs: opts.EntityIDs,
					Metadata:  meta,
				})
				if err != nil {
					return outputError(f, "save context failed", err)
				}
				return f.Result(saved, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Saved %s context %s\n", saved.Type, saved.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "context id (generated when empty)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "context type (required)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "context content")
	cmd.Flags().StringVar(&opts.File, "file", "", "read content from file (- for stdin)")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "short summary")
	cmd.Flags().StringSliceVar(&opts.Topics, "topics", nil, "comma-separated topics")
	cmd.Flags().StringSliceVar(&opts.EntityIDs, "entities", nil, "ids of entities this context mentions")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newContextGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Show a context",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				c, err := a.mem.GetContext(ctx, args[0])
				if err != nil {
					return outputError(f, "get context failed", err)
				}
				return f.Result(c, func(w io.Writer) { printContext(w, c) })
			})
		},
	}
}

func newContextSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find contexts whose content contains text",
		Long: `Find contexts whose content contains the text, newest first.

Example:
  mnemo context search "rollback" --type debug_session --limit 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				filter := store.Filter{Type: opts.Type, Tags: opts.Topics}
				contexts, err := a.mem.SearchContexts(ctx, args[0], filter, opts.Limit)
				if err != nil {
					return outputError(f, "search contexts failed", err)
				}
				return f.Result(contexts, func(w io.Writer) { printContexts(w, contexts) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only this context type")
	cmd.Flags().StringSliceVar(&opts.Topics, "topics", nil, "require at least one of these topics")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum results")
	return cmd
}

func newContextRelatedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ContextOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "related <entity-id>",
		Short:         "List contexts linked to an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				related, err := a.mem.GetRelatedContexts(ctx, args[0], relationTypes(opts.Types)...)
				if err != nil {
					return outputError(f, "list related contexts failed", err)
				}
				return f.Result(related, func(w io.Writer) { printRelatedContexts(w, related) })
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "types", nil, "only these relation types")
	return cmd
}
