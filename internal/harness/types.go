package harness

import (
	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

// TraceEvent is one committed ledger record as seen by the harness.
type TraceEvent struct {
	Seq     uint64  `json:"seq"`
	EventID string  `json:"event_id"`
	Kind    ir.Kind `json:"kind"`
	Actor   string  `json:"actor,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	Scenario string `json:"scenario"`

	// Pass is true if every step and expectation matched.
	Pass bool `json:"pass"`

	// Trace is the final ledger contents in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the projected state after the last step.
	State *projection.State `json:"-"`

	// Rejections counts candidates quarantined to the reject log.
	Rejections int `json:"rejections"`

	// Truncated is set when any reopen discarded a torn ledger tail.
	Truncated bool `json:"truncated"`

	// Degraded is set when any reopen could not trust the snapshot.
	Degraded bool `json:"degraded"`
}

// NewResult creates a new passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func traceOf(events []ir.Event) []TraceEvent {
	out := make([]TraceEvent, len(events))
	for i, ev := range events {
		out[i] = TraceEvent{Seq: ev.Sequence, EventID: ev.EventID, Kind: ev.Kind}
		if meta, ok := ev.Payload.Object("meta"); ok {
			out[i].Actor, _ = meta.String("actor")
		}
	}
	return out
}
