package projection

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/atlas/internal/ir"
)

// PageSize is the number of events read per ledger round trip during a
// rebuild.
const PageSize = 256

// staleBelow is the freshness under which an artifact is flagged stale.
const staleBelow = ir.ScoreOne / 2

// Source is the read side of the ledger.
type Source interface {
	Head() uint64
	Read(ctx context.Context, from, to uint64) ([]ir.Event, error)
}

// Apply folds one event into s in place and returns the ids of artifacts
// it touched, sorted. The event must be the next in sequence.
func Apply(s *State, ev ir.Event) ([]string, error) {
	if ev.Sequence != s.Position+1 {
		return nil, fmt.Errorf("fold: event %s has sequence %d, expected %d", ev.EventID, ev.Sequence, s.Position+1)
	}

	var touched []string
	if rule, ok := reducers[ev.Kind]; ok {
		touched = rule(s, ev)
	} else {
		s.Unhandled = append(s.Unhandled, ev.EventID)
	}

	touched = sortedSet(touched)
	for _, id := range touched {
		a := s.Artifacts[id]
		if len(a.Events) == 0 || a.Events[len(a.Events)-1] != ev.EventID {
			a.Events = append(a.Events, ev.EventID)
		}
		refreshDerived(s, a)
	}

	s.Position = ev.Sequence
	s.Checksum = ev.Checksum
	if ev.Timestamp.After(s.LastTimestamp) {
		s.LastTimestamp = ev.Timestamp
	}
	s.KindCounts[ev.Kind]++
	return touched, nil
}

// Fold applies events to a copy of start (or to the empty state when start
// is nil). start is never modified.
func Fold(start *State, events []ir.Event) (*State, error) {
	var s *State
	if start == nil {
		s = New()
	} else {
		s = start.Clone()
	}
	for _, ev := range events {
		if _, err := Apply(s, ev); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Rebuild folds the ledger from from.Position+1 through upto, page by page.
// A nil from starts at position 0 and ignores any snapshot. upto 0 means the
// current head.
//
// Cancellation is checked between events; a cancelled rebuild returns the
// context error and no state, and has no side effects.
func Rebuild(ctx context.Context, src Source, from *State, upto uint64) (*State, error) {
	head := src.Head()
	if upto == 0 || upto > head {
		upto = head
	}

	var s *State
	if from == nil {
		s = New()
	} else {
		if from.Position > upto {
			return nil, fmt.Errorf("rebuild: start position %d is beyond %d", from.Position, upto)
		}
		s = from.Clone()
	}

	for next := s.Position + 1; next <= upto; {
		end := min(next+PageSize-1, upto)
		page, err := src.Read(ctx, next, end)
		if err != nil {
			return nil, fmt.Errorf("rebuild: read %d..%d: %w", next, end, err)
		}
		if len(page) == 0 {
			return nil, fmt.Errorf("rebuild: ledger returned no events for %d..%d", next, end)
		}
		for _, ev := range page {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if _, err := Apply(s, ev); err != nil {
				return nil, err
			}
		}
		next = s.Position + 1
	}
	return s, nil
}

// Project folds the ledger prefix 1..upto from scratch.
func Project(ctx context.Context, src Source, upto uint64) (*State, error) {
	return Rebuild(ctx, src, nil, upto)
}

// refreshDerived recomputes values that are functions of the artifact's
// folded facts: conflict status, ambiguity flags and volatility.
func refreshDerived(s *State, a *ir.Artifact) {
	a.Conflicted = len(s.OpenConflicts(a.ID)) > 0

	var flags []string
	if a.Conflicted {
		flags = append(flags, ir.AmbiguityConflictingEvidence)
	}
	if len(a.Extraction.Errors) > 0 {
		flags = append(flags, ir.AmbiguityIncompleteData)
	}
	if len(a.Limitations) > 0 {
		flags = append(flags, ir.AmbiguityPartialAccess)
	}
	if a.Temporal.Freshness < staleBelow {
		flags = append(flags, ir.AmbiguityStaleObservation)
	}
	slices.Sort(flags)
	a.Confidence.AmbiguityFlags = flags

	if n := len(a.Observations); n > 0 {
		a.Temporal.Volatility = ir.Score(int64(len(a.Temporal.Changes)) * ir.ScoreScale / int64(n)).Clamp()
	}
}
