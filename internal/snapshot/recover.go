package snapshot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/projection"
)

// Recovery is the outcome of Recover.
type Recovery struct {
	// State is folded through the ledger head.
	State *projection.State

	// From is the position the fold resumed from; 0 means a full rebuild.
	From uint64

	// Degraded is set when a snapshot existed but could not be trusted.
	Degraded bool

	// Reason explains why the snapshot was not used, if it was not.
	Reason string
}

// Recover produces current state from the snapshot plus the ledger suffix.
//
// The snapshot is trusted only if its checksum verifies and the ledger
// event at its position still carries the checksum recorded with it. In
// every other case the state is rebuilt from position 0. An error is
// returned only when the ledger itself cannot be folded.
func Recover(ctx context.Context, store *Store, src projection.Source) (Recovery, error) {
	logger := zap.NewNop()
	if store != nil {
		logger = store.logger
	}

	snap, reason, degraded := trusted(ctx, store, src)
	if snap.State == nil {
		if degraded {
			logger.Warn("snapshot rejected, rebuilding from ledger", zap.String("reason", reason))
		}
		state, err := projection.Rebuild(ctx, src, nil, 0)
		if err != nil {
			return Recovery{}, rebuildError(err)
		}
		return Recovery{State: state, Degraded: degraded, Reason: reason}, nil
	}

	state, err := projection.Rebuild(ctx, src, snap.State, 0)
	if err != nil {
		return Recovery{}, rebuildError(err)
	}
	logger.Debug("resumed from snapshot",
		zap.Uint64("snapshot_position", snap.Position),
		zap.Uint64("head", state.Position),
	)
	return Recovery{State: state, From: snap.Position}, nil
}

// trusted loads the snapshot and verifies it against the ledger. A zero
// Snapshot means start from scratch.
func trusted(ctx context.Context, store *Store, src projection.Source) (Snapshot, string, bool) {
	if store == nil {
		return Snapshot{}, "no snapshot store", false
	}
	snap, err := store.Load()
	if errors.Is(err, ErrNoSnapshot) {
		return Snapshot{}, "no snapshot", false
	}
	if err != nil {
		return Snapshot{}, err.Error(), true
	}

	head := src.Head()
	if snap.Position > head {
		return Snapshot{}, fmt.Sprintf("snapshot position %d is beyond ledger head %d", snap.Position, head), true
	}
	if snap.Position == 0 {
		return snap, "", false
	}

	events, err := src.Read(ctx, snap.Position, snap.Position)
	if err != nil || len(events) != 1 {
		return Snapshot{}, fmt.Sprintf("ledger event %d unreadable for verification", snap.Position), true
	}
	if events[0].Checksum != snap.LedgerChecksum {
		return Snapshot{}, fmt.Sprintf("ledger event %d checksum differs from snapshot", snap.Position), true
	}
	return snap, "", false
}

func rebuildError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return faults.NewStorage("snapshot.recover", "ledger cannot be folded", err)
}
