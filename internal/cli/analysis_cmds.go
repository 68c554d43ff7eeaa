package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/salience"
)

// NewDecayCommand creates the decay command.
func NewDecayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Apply freshness decay at the current time",
		Long: `Runs one freshness decay sweep: every artifact whose last observation is
older than the decay half-life gets a FRESHNESS_DECAY_APPLIED event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			events, err := s.engine.ApplyDecay(cmd.Context())
			if err != nil {
				return s.out.Fail(ExitFailure, "decay sweep failed", err)
			}
			views := make([]reactionView, len(events))
			for i, ev := range events {
				views[i] = reactionView{Seq: ev.Sequence, EventID: ev.EventID, Kind: ev.Kind}
			}
			return s.out.Render(views, func(w io.Writer) error {
				fmt.Fprintf(w, "%d decay events\n", len(events))
				for _, ev := range events {
					id, _ := ev.Payload.String("artifact_id")
					fmt.Fprintf(w, "  %d %s\n", ev.Sequence, id)
				}
				return nil
			})
		},
	}
}

// SalienceOptions holds flags for the salience command.
type SalienceOptions struct {
	*RootOptions
	Prior    uint64
	Artifact string
	MinTier  string
}

// NewSalienceCommand creates the salience command.
func NewSalienceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SalienceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "salience",
		Short: "Rank artifacts by how much attention they deserve",
		Long: `Scores artifacts in the current state against the state at --prior
(0 compares against an empty ledger). Scores are derived on demand and
never written to the ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSalience(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.Prior, "prior", 0, "ledger position to compare against")
	cmd.Flags().StringVar(&opts.Artifact, "artifact", "", "explain a single artifact")
	cmd.Flags().StringVar(&opts.MinTier, "min-tier", "silent", "hide scores below this tier (silent|logged|surfaced|interrupt)")
	return cmd
}

func parseTier(name string) (salience.Tier, error) {
	for t := salience.Silent; t <= salience.Interrupt; t++ {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", name)
}

func runSalience(cmd *cobra.Command, opts *SalienceOptions) error {
	minTier, err := parseTier(opts.MinTier)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --min-tier", err)
	}

	s, err := opts.open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.Artifact != "" {
		score, err := s.engine.SalienceOf(cmd.Context(), opts.Artifact, opts.Prior)
		if err != nil {
			return s.out.Fail(ExitFailure, "failed to score artifact", err)
		}
		return s.out.Render(score, func(w io.Writer) error {
			for _, line := range score.Explain() {
				fmt.Fprintln(w, line)
			}
			return nil
		})
	}

	scores, err := s.engine.Salience(cmd.Context(), opts.Prior)
	if err != nil {
		return s.out.Fail(ExitFailure, "failed to score artifacts", err)
	}
	shown := []salience.Score{}
	for _, sc := range scores {
		if sc.Tier >= minTier {
			shown = append(shown, sc)
		}
	}

	return s.out.Render(shown, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ARTIFACT\tTIER\tAGGREGATE\tTRIGGERS")
		for _, sc := range shown {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", sc.ArtifactID, sc.Tier, sc.Aggregate, sc.Triggers)
		}
		return tw.Flush()
	})
}

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	All bool
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded conflicts",
		Long: `Lists open conflicts in detection order. Open is a permanent valid state:
a conflict closes only when a CONFLICT_RESOLVED event references it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			shown := []ir.ConflictRecord{}
			for _, c := range s.engine.State().Conflicts {
				if opts.All || c.Open() {
					shown = append(shown, c)
				}
			}
			return s.out.Render(shown, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONFLICT\tTYPE\tARTIFACTS\tSTATUS")
				for _, c := range shown {
					status := "open"
					if !c.Open() {
						status = "resolved by " + c.ResolvedBy
					}
					fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", c.ID, c.Type, c.ArtifactIDs, status)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "include resolved conflicts")
	return cmd
}
