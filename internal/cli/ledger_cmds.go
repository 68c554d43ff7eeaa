package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/atlas/internal/engine"
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
	"github.com/roach88/atlas/internal/snapshot"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Actor string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append [file]",
		Short: "Append candidate events to the ledger",
		Long: `Reads one or more candidate events as JSON from file, or from stdin when
no file or "-" is given, and appends each in order. Missing event ids and
timestamps are filled in; the actor defaults to --actor.

Each accepted candidate may trigger reactions (conflict detection and
confidence updates) which are appended right after it.

Example:
  echo '{"kind":"ARTIFACT_SEEN","payload":{"artifact_id":"A1","locator":"/etc/hosts"}}' | atlas append`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "cli", "actor module for candidates that name none")
	return cmd
}

func runAppend(cmd *cobra.Command, opts *AppendOptions, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open candidates", err)
		}
		defer f.Close()
		in = f
	}

	s, err := opts.open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	h := s.engine.Handle(opts.Actor)
	dec := json.NewDecoder(bufio.NewReader(in))

	var receipts []receiptView
	for {
		var c ir.Candidate
		if err := dec.Decode(&c); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return WrapExitError(ExitCommandError, "failed to decode candidate", err)
		}
		if c.EventID == "" {
			c.EventID = h.NewEventID()
		}
		if c.Timestamp == "" {
			c.Timestamp = ir.FormatTimestamp(h.Now())
		}
		if c.Actor == nil {
			c.Actor = &ir.Actor{Module: opts.Actor}
		}

		rc, err := s.engine.Append(cmd.Context(), c)
		if err != nil {
			return s.out.Fail(ExitFailure, fmt.Sprintf("candidate %s rejected", c.EventID), err)
		}
		receipts = append(receipts, newReceiptView(rc))
	}

	return s.out.Render(receipts, func(w io.Writer) error {
		for _, r := range receipts {
			if r.Quarantined {
				fmt.Fprintf(w, "quarantined %s\n", r.EventID)
				continue
			}
			fmt.Fprintf(w, "appended %s at %d\n", r.EventID, r.Sequence)
			for _, re := range r.Reactions {
				fmt.Fprintf(w, "  + %d %s %s\n", re.Seq, re.Kind, re.EventID)
			}
		}
		return nil
	})
}

type reactionView struct {
	Seq     uint64  `json:"sequence"`
	EventID string  `json:"event_id"`
	Kind    ir.Kind `json:"kind"`
}

type receiptView struct {
	EventID     string         `json:"event_id"`
	Sequence    uint64         `json:"sequence"`
	Quarantined bool           `json:"quarantined"`
	Reactions   []reactionView `json:"reactions"`
}

func newReceiptView(rc engine.Receipt) receiptView {
	v := receiptView{
		EventID:     rc.EventID,
		Sequence:    rc.Sequence,
		Quarantined: rc.Quarantined,
		Reactions:   []reactionView{},
	}
	for _, ev := range rc.Reactions {
		v.Reactions = append(v.Reactions, reactionView{Seq: ev.Sequence, EventID: ev.EventID, Kind: ev.Kind})
	}
	return v
}

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	From uint64
	To   uint64
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print committed ledger records",
		Long: `Prints the records with from <= sequence <= to as JSON lines, exactly as
they are stored. --to 0 means the head.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 1, "first sequence")
	cmd.Flags().Uint64Var(&opts.To, "to", 0, "last sequence (0 = head)")
	return cmd
}

func runRead(cmd *cobra.Command, opts *ReadOptions) error {
	s, err := opts.open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	to := opts.To
	if to == 0 {
		to = s.engine.Head()
	}
	var events []ir.Event
	if opts.From <= to && to > 0 {
		if events, err = s.engine.Read(cmd.Context(), max(opts.From, 1), to); err != nil {
			return s.out.Fail(ExitCommandError, "failed to read ledger", err)
		}
	}
	if events == nil {
		events = []ir.Event{}
	}

	return s.out.Render(events, func(w io.Writer) error {
		for _, ev := range events {
			line, err := ir.MarshalRecord(ev)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return err
			}
		}
		return nil
	})
}

// ProjectOptions holds flags for the project command.
type ProjectOptions struct {
	*RootOptions
	Upto     uint64
	Artifact string
}

// NewProjectCommand creates the project command.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProjectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Show projected state",
		Long: `Shows the projected state. Without --upto this is the live state; with
--upto N the ledger is folded from scratch through sequence N.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProject(cmd, opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.Upto, "upto", 0, "fold through this sequence (0 = live state)")
	cmd.Flags().StringVar(&opts.Artifact, "artifact", "", "show a single artifact")
	return cmd
}

func runProject(cmd *cobra.Command, opts *ProjectOptions) error {
	s, err := opts.open(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	state := s.engine.State()
	if opts.Upto > 0 {
		if opts.Upto > s.engine.Head() {
			return NewExitError(ExitCommandError, fmt.Sprintf("--upto %d is beyond head %d", opts.Upto, s.engine.Head()))
		}
		if state, err = s.engine.Project(cmd.Context(), opts.Upto); err != nil {
			return s.out.Fail(ExitCommandError, "failed to project", err)
		}
	}

	if opts.Artifact != "" {
		a := state.Artifact(opts.Artifact)
		if a == nil {
			return NewExitError(ExitFailure, fmt.Sprintf("artifact %s not found at position %d", opts.Artifact, state.Position))
		}
		return s.out.Render(a, func(w io.Writer) error {
			return writeArtifact(w, state, a)
		})
	}

	return s.out.Render(state, func(w io.Writer) error {
		fmt.Fprintf(w, "position %d, %d artifacts, %d conflicts\n", state.Position, len(state.Artifacts), len(state.Conflicts))
		return writeArtifactTable(w, state)
	})
}

func writeArtifactTable(w io.Writer, state *projection.State) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tLIFECYCLE\tCONFIDENCE\tCONFLICTED\tLOCATOR")
	for _, id := range state.ArtifactIDs() {
		a := state.Artifact(id)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", a.ID, a.Lifecycle, a.Confidence.Score, a.Conflicted, a.Source.Locator)
	}
	return tw.Flush()
}

func writeArtifact(w io.Writer, state *projection.State, a *ir.Artifact) error {
	fmt.Fprintf(w, "artifact   %s\n", a.ID)
	fmt.Fprintf(w, "locator    %s\n", a.Source.Locator)
	fmt.Fprintf(w, "lifecycle  %s\n", a.Lifecycle)
	if a.Fingerprint.ContentHash != "" {
		fmt.Fprintf(w, "hash       %s\n", a.Fingerprint.ContentHash)
	}
	fmt.Fprintf(w, "confidence %s\n", a.Confidence.Score)
	for _, c := range a.Confidence.Reasoning {
		fmt.Fprintf(w, "  %-14s %s (%s)\n", c.Signal, c.Delta, c.EventID)
	}
	for _, f := range a.Confidence.AmbiguityFlags {
		fmt.Fprintf(w, "ambiguous  %s\n", f)
	}
	for group, tags := range a.Tags {
		fmt.Fprintf(w, "tags       %s: %v\n", group, tags)
	}
	if len(a.Roles) > 0 {
		fmt.Fprintf(w, "roles      %v\n", a.Roles)
	}
	for _, r := range a.Relations {
		fmt.Fprintf(w, "relation   %s -> %s (%s)\n", r.Type, r.TargetID, r.Weight)
	}
	for _, c := range state.OpenConflicts(a.ID) {
		fmt.Fprintf(w, "conflict   %s %s\n", c.ID, c.Type)
	}
	return nil
}

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save or inspect the projection snapshot",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Write a snapshot of the current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			pos, err := s.engine.Checkpoint(cmd.Context())
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to save snapshot", err)
			}
			data := map[string]any{"position": pos, "path": s.cfg.SnapshotPath()}
			return s.out.Render(data, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "snapshot saved at position %d\n", pos)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored snapshot header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			out := rootOpts.formatter(cmd)

			store, err := snapshot.NewStore(cfg.SnapshotPath())
			if err != nil {
				return out.Fail(ExitCommandError, "failed to open snapshot store", err)
			}
			snap, err := store.Load()
			if errors.Is(err, snapshot.ErrNoSnapshot) {
				return out.Fail(ExitFailure, "no snapshot", err)
			}
			if err != nil {
				return out.Fail(ExitFailure, "snapshot unusable", err)
			}
			data := map[string]any{
				"position":        snap.Position,
				"ledger_checksum": snap.LedgerChecksum,
				"artifacts":       len(snap.State.Artifacts),
				"conflicts":       len(snap.State.Conflicts),
			}
			return out.Render(data, func(w io.Writer) error {
				fmt.Fprintf(w, "position  %d\n", snap.Position)
				fmt.Fprintf(w, "checksum  %s\n", snap.LedgerChecksum)
				fmt.Fprintf(w, "artifacts %d\n", len(snap.State.Artifacts))
				fmt.Fprintf(w, "conflicts %d\n", len(snap.State.Conflicts))
				return nil
			})
		},
	})

	return cmd
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that replay is deterministic and the snapshot is sound",
		Long: `Replays the whole ledger twice and compares the results with each other
and with the live state, then checks the stored snapshot against a replay
through its position. Exits 1 if any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			v, err := s.engine.Verify(cmd.Context())
			if err != nil {
				return s.out.Fail(ExitCommandError, "verification could not run", err)
			}
			if err := s.out.Render(v, func(w io.Writer) error {
				fmt.Fprintf(w, "head           %d\n", v.Head)
				fmt.Fprintf(w, "digest         %s\n", v.Digest)
				fmt.Fprintf(w, "deterministic  %t\n", v.Deterministic)
				fmt.Fprintf(w, "live matches   %t\n", v.LiveMatches)
				fmt.Fprintf(w, "snapshot       %s\n", v.Snapshot)
				return nil
			}); err != nil {
				return err
			}
			if !v.OK() {
				return &ExitError{Code: ExitFailure, Message: "verification failed", Reported: true}
			}
			return nil
		},
	}
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Discard the snapshot and rebuild it from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			store, err := snapshot.NewStore(cfg.SnapshotPath())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open snapshot store", err)
			}
			if err := store.Remove(); err != nil {
				return WrapExitError(ExitCommandError, "failed to remove snapshot", err)
			}

			s, err := rootOpts.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			pos, err := s.engine.Checkpoint(cmd.Context())
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to save snapshot", err)
			}
			digest, err := s.engine.State().Digest()
			if err != nil {
				return s.out.Fail(ExitCommandError, "failed to digest state", err)
			}
			data := map[string]any{"position": pos, "digest": digest}
			return s.out.Render(data, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "rebuilt through %d (%s)\n", pos, digest)
				return err
			})
		},
	}
}
