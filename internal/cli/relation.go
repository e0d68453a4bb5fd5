package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/ir"
)

// RelationOptions holds flags for relation subcommands.
type RelationOptions struct {
	*RootOptions
	ID       string
	Source   string
	Target   string
	Type     string
	Strength float64
	Metadata string
	Types    []string
}

// NewRelationCommand creates the relation command group.
func NewRelationCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relation",
		Short: "Link entities and contexts",
	}
	cmd.AddCommand(newRelationSaveCommand(rootOpts))
	cmd.AddCommand(newRelationListCommand(rootOpts))
	cmd.AddCommand(newRelationDeleteCommand(rootOpts))
	return cmd
}

func newRelationSaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create a relation between two records",
		Long: `Create a directed relation. Both endpoints must be existing entities
or contexts.

Example:
  mnemo relation save --source task-1 --target project-9 --type part_of`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				meta, err := parseObject("metadata", opts.Metadata)
				if err != nil {
					return outputCommandError(f, ErrCodeUsage, "invalid flags", err)
				}
				rel, err := a.mem.SaveRelation(ctx, ir.Relation{
					ID:           opts.ID,
					SourceID:     opts.Source,
					TargetID:     opts.Target,
					RelationType: ir.RelationType(opts.Type),
					Strength:     opts.Strength,
					Metadata:     meta,
				})
				if err != nil {
					return outputError(f, "save relation failed", err)
				}
				return f.Result(rel, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Saved relation %s: %s -%s-> %s\n", rel.ID, rel.SourceID, rel.RelationType, rel.TargetID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "relation id (generated when empty)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source entity or context id (required)")
	cmd.Flags().StringVar(&opts.Target, "target", "", "target entity or context id (required)")
	cmd.Flags().StringVar(&opts.Type, "type", string(ir.RelRelatesTo), "relation type")
	cmd.Flags().Float64Var(&opts.Strength, "strength", 1.0, "relation strength in [0,1]")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "metadata as a JSON object")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func newRelationListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List entities related to an entity",
		Long: `List entities connected to the given entity in either direction.

Example:
  mnemo relation list project-9 --types part_of,depends_on`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				related, err := a.mem.GetRelated(ctx, args[0], relationTypes(opts.Types)...)
				if err != nil {
					return outputError(f, "list relations failed", err)
				}
				return f.Result(related, func(w io.Writer) { printRelated(w, related) })
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "types", nil, "only these relation types")
	return cmd
}

func newRelationDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <relation-id>",
		Short:         "Delete a relation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, rootOpts, func(ctx context.Context, a *app, f *OutputFormatter) error {
				if err := a.mem.DeleteRelation(ctx, args[0]); err != nil {
					return outputError(f, "delete relation failed", err)
				}
				return f.Result(map[string]any{"id": args[0], "deleted": true}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Deleted relation %s\n", args[0])
				})
			})
		},
	}
}

func relationTypes(names []string) []ir.RelationType {
	out := make([]ir.RelationType, len(names))
	for i, n := range names {
		out[i] = ir.RelationType(n)
	}
	return out
}
