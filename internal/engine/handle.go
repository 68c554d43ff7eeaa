package engine

import (
	"context"
	"time"

	"github.com/roach88/atlas/internal/ir"
)

// Handle is the capability observers receive. It can append candidates
// through the validator and nothing else: no reads, no state access.
type Handle struct {
	engine *Engine
	module string
}

// Module returns the actor name stamped on candidates.
func (h *Handle) Module() string {
	return h.module
}

// Append submits c as the handle's module and returns its sequence,
// or 0 when lenient validation quarantined it.
func (h *Handle) Append(ctx context.Context, c ir.Candidate) (uint64, error) {
	if c.Actor == nil && h.module != "" {
		c.Actor = &ir.Actor{Module: h.module}
	}
	rc, err := h.engine.Append(ctx, c)
	return rc.Sequence, err
}

// NewEventID returns a fresh event id.
func (h *Handle) NewEventID() string {
	return h.engine.ids.Generate()
}

// Now returns the engine clock's time.
func (h *Handle) Now() time.Time {
	return h.engine.clock.Now()
}
