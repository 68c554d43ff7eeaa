package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/index"
)

// NewIndexCommand creates the index command group.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain and query the SQLite read index",
		Long: `The index is a disposable SQLite copy of the projected state for ad hoc
lookups. It is never a source of truth: rebuild recreates it from the
ledger, and sync catches it up incrementally.`,
	}

	cmd.AddCommand(newIndexRebuildCommand(rootOpts))
	cmd.AddCommand(newIndexSyncCommand(rootOpts))
	cmd.AddCommand(newIndexQueryCommand(rootOpts))
	return cmd
}

// withIndex opens the engine and the index and closes both after fn.
func withIndex(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, x *index.Index) error) error {
	s, err := opts.open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	x, err := index.Open(s.cfg.IndexPath())
	if err != nil {
		return s.out.Fail(ExitCommandError, "failed to open index", err)
	}
	defer func() {
		if err := x.Close(); err != nil {
			s.logger.Warn("close index", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), s, x)
}

func newIndexRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recreate the index from a full ledger replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, rootOpts, func(ctx context.Context, s *session, x *index.Index) error {
				state, err := x.Rebuild(ctx, s.engine)
				if err != nil {
					return s.out.Fail(ExitCommandError, "index rebuild failed", err)
				}
				data := map[string]any{"position": state.Position, "artifacts": len(state.Artifacts)}
				return s.out.Render(data, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "indexed %d artifacts through %d\n", len(state.Artifacts), state.Position)
					return err
				})
			})
		},
	}
}

func newIndexSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Bring the index up to the ledger head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIndex(cmd, rootOpts, func(ctx context.Context, s *session, x *index.Index) error {
				state := s.engine.State()
				n, err := x.Sync(ctx, s.engine, state)
				if err != nil {
					return s.out.Fail(ExitCommandError, "index sync failed", err)
				}
				data := map[string]any{"position": state.Position, "rewritten": n}
				return s.out.Render(data, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "rewrote %d artifacts, index at %d\n", n, state.Position)
					return err
				})
			})
		},
	}
}

// IndexQueryOptions holds flags for index query. Exactly one is used.
type IndexQueryOptions struct {
	*RootOptions
	Locator   string
	Hash      string
	Tag       string
	Relations string
	Conflicts bool
	Where     []string
}

func newIndexQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexQueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Look up artifacts in the index",
		Long: `Syncs the index, then runs one lookup.

Examples:
  atlas index query --locator /etc/hosts
  atlas index query --hash sha256:...
  atlas index query --tag risk/secret
  atlas index query --relations A1
  atlas index query --conflicts
  atlas index query --where lifecycle=fingerprinted --where confidence>=500000
  atlas index query --where tag:risk/secret --where conflicted=true`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexQuery(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Locator, "locator", "", "artifacts observed at this locator")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "artifacts whose current content hash matches")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "artifacts carrying group/tag")
	cmd.Flags().StringVar(&opts.Relations, "relations", "", "relations from this artifact")
	cmd.Flags().BoolVar(&opts.Conflicts, "conflicts", false, "open conflicts")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter term: column=value, column>=n, tag:group/tag, role:name (repeatable, ANDed)")
	cmd.MarkFlagsMutuallyExclusive("locator", "hash", "tag", "relations", "conflicts", "where")
	cmd.MarkFlagsOneRequired("locator", "hash", "tag", "relations", "conflicts", "where")
	return cmd
}

func runIndexQuery(cmd *cobra.Command, opts *IndexQueryOptions) error {
	var group, tag string
	if opts.Tag != "" {
		var ok bool
		if group, tag, ok = strings.Cut(opts.Tag, "/"); !ok || group == "" || tag == "" {
			return NewExitError(ExitCommandError, fmt.Sprintf("--tag %q: expected group/tag", opts.Tag))
		}
	}

	var filter index.Predicate
	if len(opts.Where) > 0 {
		var err error
		if filter, err = index.ParseFilter(opts.Where); err != nil {
			return WrapExitError(ExitCommandError, "invalid --where", err)
		}
	}

	return withIndex(cmd, opts.RootOptions, func(ctx context.Context, s *session, x *index.Index) error {
		if _, err := x.Sync(ctx, s.engine, s.engine.State()); err != nil {
			return s.out.Fail(ExitCommandError, "index sync failed", err)
		}

		switch {
		case opts.Locator != "" || opts.Hash != "" || filter != nil:
			var rows []index.ArtifactRow
			var err error
			switch {
			case filter != nil:
				rows, err = x.Find(ctx, filter)
			case opts.Locator != "":
				rows, err = x.ByLocator(ctx, opts.Locator)
			default:
				rows, err = x.ByContentHash(ctx, opts.Hash)
			}
			if err != nil {
				return s.out.Fail(ExitCommandError, "query failed", err)
			}
			return s.out.Render(rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ARTIFACT\tLIFECYCLE\tCONFIDENCE\tCONFLICTED\tHASH")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.ID, r.Lifecycle, r.Confidence, r.Conflicted, r.ContentHash)
				}
				return tw.Flush()
			})

		case opts.Tag != "":
			ids, err := x.Tagged(ctx, group, tag)
			if err != nil {
				return s.out.Fail(ExitCommandError, "query failed", err)
			}
			return s.out.Render(ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			})

		case opts.Relations != "":
			rows, err := x.RelationsFrom(ctx, opts.Relations)
			if err != nil {
				return s.out.Fail(ExitCommandError, "query failed", err)
			}
			return s.out.Render(rows, func(w io.Writer) error {
				for _, r := range rows {
					fmt.Fprintf(w, "%s -%s-> %s (%s)\n", r.SourceID, r.Type, r.TargetID, r.Weight)
				}
				return nil
			})

		default:
			rows, err := x.OpenConflicts(ctx)
			if err != nil {
				return s.out.Fail(ExitCommandError, "query failed", err)
			}
			return s.out.Render(rows, func(w io.Writer) error {
				for _, r := range rows {
					fmt.Fprintf(w, "%s %s %v\n", r.ID, r.Type, r.ArtifactIDs)
				}
				return nil
			})
		}
	})
}
