package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/ir"
	"github.com/roach88/mnemo/internal/store"
)

// EntityOptions holds flags shared by entity subcommands.
type EntityOptions struct {
	*RootOptions
	ID       string
	Type     string
	Name     string
	Content  string
	File     string
	Tags     []string
	Metadata string

	// list
	Where map[string]string
	Limit int
}

// NewEntityCommand creates the entity command group.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Save, read and list entities",
	}
	cmd.AddCommand(newEntitySaveCommand(rootOpts))
	cmd.AddCommand(newEntityGetCommand(rootOpts))
	cmd.AddCommand(newEntityUpdateCommand(rootOpts))
	cmd.AddCommand(newEntityDeleteCommand(rootOpts))
	cmd.AddCommand(newEntityListCommand(rootOpts))
	return cmd
}

func newEntitySaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace an entity",
		Long: `Create an entity, or replace it when --id names an existing one.

Example:
  mnemo entity save --type task --name "Review PR" --tags review,urgent
  mnemo entity save --type note --name standup --file notes.md --metadata '{"team":"core"}'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				return saveEntity(ctx, cmd, opts, a, f)
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (generated when empty)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "entity type (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "entity name (required)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "entity content")
	cmd.Flags().StringVar(&opts.File, "file", "", "read content from file (- for stdin)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "comma-separated tags")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata as a JSON object")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func saveEntity(ctx context.Context, cmd *cobra.Command, opts *EntityOptions, a *app, f *OutputFormatter) error {
	meta, err := parseObject("metadata", opts.Metadata)
	if err != nil {
		return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
	}
	content, err := readContent(opts.Content, opts.File, cmd.InOrStdin())
	if err != nil {
		return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
	}

	saved, err := a.mem.SaveEntity(ctx, ir.Entity{
		ID:       opts.ID,
		Type:     ir.EntityType(opts.Type),
		Name:     opts.Name,
		Content:  content,
		Tags:     opts.Tags,
		Metadata: meta,
	})
	if err != nil {
		return outputError(f, "save entity failed", err)
	}
	f.VerboseLog("saved entity %s", saved.ID)
	return f.Result(saved, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Saved %s %s (%s)\n", saved.Type, saved.ID, saved.Name)
	})
}

func newEntityGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <id>",
		Short:         "Show an entity",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				e, err := a.mem.GetEntity(ctx, args[0])
				if err != nil {
					return outputError(f, "get entity failed", err)
				}
				return f.Result(e, func(w io.Writer) { printEntity(w, e) })
			})
		},
	}
}

func newEntityUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of an existing entity",
		Long: `Change the fields given as flags. Unset flags keep their values;
--metadata keys are merged into the existing metadata.

Example:
  mnemo entity update 0192f0c4 --metadata '{"status":"done"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				return updateEntity(ctx, cmd, opts, args[0], a, f)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "new entity type")
	cmd.Flags().StringVar(&opts.Name, "name", "", "new name")
	cmd.Flags().StringVar(&opts.Content, "content", "", "new content")
	cmd.Flags().StringVar(&opts.File, "file", "", "read new content from file (- for stdin)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "replacement tags")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata keys to merge, as a JSON object")
	return cmd
}

func updateEntity(ctx context.Context, cmd *cobra.Command, opts *EntityOptions, id string, a *app, f *OutputFormatter) error {
	meta, err := parseObject("metadata", opts.Metadata)
	if err != nil {
		return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
	}

	e, err := a.mem.GetEntity(ctx, id)
	if err != nil {
		return outputError(f, "update entity failed", err)
	}

	flags := cmd.Flags()
	if flags.Changed("type") {
		e.Type = ir.EntityType(opts.Type)
	}
	if flags.Changed("name") {
		e.Name = opts.Name
	}
	if flags.Changed("content") || flags.Changed("file") {
		content, err := readContent(opts.Content, opts.File, cmd.InOrStdin())
		if err != nil {
			return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
		}
		e.Content = content
	}
	if flags.Changed("tags") {
		e.Tags = opts.Tags
	}
	if len(meta) > 0 {
		e.Metadata = ir.CloneMetadata(e.Metadata)
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		for k, v := range meta {
			e.Metadata[k] = v
		}
	}

	updated, err := a.mem.UpdateEntity(ctx, e)
	if err != nil {
		return outputError(f, "update entity failed", err)
	}
	return f.Result(updated, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Updated %s %s\n", updated.Type, updated.ID)
	})
}

func newEntityDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete an entity and its relations",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				deleted, err := a.mem.DeleteEntity(ctx, args[0])
				if err != nil {
					return outputError(f, "delete entity failed", err)
				}
				return f.Result(map[string]any{"id": args[0], "deleted": deleted}, func(w io.Writer) {
					if deleted {
						fmt.Fprintf(w, "✓ Deleted %s\n", args[0])
					} else {
						fmt.Fprintf(w, "No entity %s; nothing deleted\n", args[0])
					}
				})
			})
		},
	}
}

func newEntityListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities, most recently updated first",
		Long: `List entities matching every given filter.

Example:
  mnemo entity list --type task --tags urgent
  mnemo entity list --where status=todo --where owner.team=core --limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				filter := store.Filter{
					Type:     opts.Type,
					Tags:     opts.Tags,
					Metadata: whereFilter(opts.Where),
				}
				entities, err := a.mem.ListEntities(ctx, filter, opts.Limit)
				if err != nil {
					return outputError(f, "list entities failed", err)
				}
				return f.Result(entities, func(w io.Writer) { printEntities(w, entities) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "only this entity type")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "require at least one of these tags")
	cmd.Flags().StringToStringVar(&opts.Where, "where", nil, "metadata predicate path=value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum results (0 for all)")
	return cmd
}
