// Package observer runs the components that look at the world and report
// what they saw as candidate events.
//
// Observers are isolated: each receives an append handle and its own
// budget, nothing else. They cannot read the ledger or projected state and
// do not talk to each other.
package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/atlas/internal/config"
	"github.com/roach88/atlas/internal/ir"
)

// Handle is the append capability an observer works through.
type Handle interface {
	Append(ctx context.Context, c ir.Candidate) (uint64, error)
	NewEventID() string
	Now() time.Time
}

// Observer produces candidates through h within budget b.
type Observer interface {
	Name() string
	Observe(ctx context.Context, h Handle, b *Budget) error
}

// HandleFunc returns the handle for the named observer.
type HandleFunc func(module string) Handle

// Limits bounds one observer run. Zero values mean unlimited.
type Limits struct {
	MaxFiles      int64
	MaxBytes      int64
	MaxDuration   time.Duration
	RatePerSecond float64
	Burst         int
}

// LimitsFrom extracts the budget limits from observer config.
func LimitsFrom(c config.ObserverConfig) Limits {
	return Limits{
		MaxFiles:      c.MaxFiles,
		MaxBytes:      c.MaxBytes,
		MaxDuration:   c.MaxDuration,
		RatePerSecond: c.RatePerSecond,
		Burst:         c.Burst,
	}
}

// Run starts every observer with its own budget, at most concurrency at a
// time, and waits for all of them. The first error cancels the rest.
func Run(ctx context.Context, handles HandleFunc, observers []Observer, limits Limits, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("observer: concurrency must be >= 1, got %d", concurrency)
	}
	names := make(map[string]bool, len(observers))
	for _, o := range observers {
		if names[o.Name()] {
			return fmt.Errorf("observer: duplicate name %q", o.Name())
		}
		names[o.Name()] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, o := range observers {
		g.Go(func() error {
			b := NewBudget(limits, time.Now)
			if err := o.Observe(gctx, handles(o.Name()), b); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("observer %s: %w", o.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
