package engine

import (
	"github.com/roach88/atlas/internal/ir"
)

// cycleGuard records the proposals already appended while handling one
// submitted event. A reaction identical in kind and payload to one already
// appended would re-derive the same facts, so it is dropped.
//
// Example cycle without the guard: a confidence update whose reasoning
// depends on a previous confidence update that it in turn changes.
type cycleGuard struct {
	seen map[string]bool
}

func newCycleGuard() *cycleGuard {
	return &cycleGuard{seen: make(map[string]bool)}
}

// key identifies a proposal by kind and canonical payload hash.
func proposalKey(p ir.Proposal) (string, error) {
	data, err := ir.MarshalCanonical(p.Payload)
	if err != nil {
		return "", err
	}
	return string(p.Kind) + ":" + ir.HashWithDomain(ir.DomainState, data), nil
}

// WouldCycle reports whether key was already recorded.
func (g *cycleGuard) WouldCycle(key string) bool {
	return g.seen[key]
}

// Record marks key as appended.
func (g *cycleGuard) Record(key string) {
	g.seen[key] = true
}

// Size returns the number of recorded proposals.
func (g *cycleGuard) Size() int {
	return len(g.seen)
}
