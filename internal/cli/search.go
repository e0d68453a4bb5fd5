package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/mnemo/internal/store"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Types []string
	Tags  []string
	Where map[string]string
	Limit int
}

// NewSearchCommand creates the hybrid search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank entities by semantic and keyword relevance",
		Long: `Rank entities against the query by blending vector similarity with
keyword relevance. With an empty query, filters list matching entities.

Example:
  mnemo search "database migration"
  mnemo search "deploy" --types task,handoff --tags urgent --limit 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts.RootOptions, func(ctx context.Context, a *app, f *OutputFormatter) error {
				limit := opts.Limit
				if limit <= 0 {
					limit = a.cfg.Search.Limit
				}
				filter := store.Filter{
					Types:    opts.Types,
					Tags:     opts.Tags,
					Metadata: whereFilter(opts.Where),
				}
				results, err := a.mem.Search(ctx, args[0], filter, limit)
				if err != nil {
					return outputError(f, "search failed", err)
				}
				return f.Result(results, func(w io.Writer) { printSearchResults(w, results) })
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "types", nil, "only these entity types")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "require at least one of these tags")
	cmd.Flags().StringToStringVar(&opts.Where, "where", nil, "metadata predicate path=value (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum results (default from config)")
	return cmd
}
