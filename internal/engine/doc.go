// Package engine is the single writer in front of the Atlas ledger.
//
// Every submission follows one path:
//
//	candidate → validator → ledger (fsync) → fold → reactions
//
// Reactions are events other components derive from what was just folded:
// the conflict detector proposes CONFLICT_DETECTED, then the confidence
// engine proposes CONFIDENCE_UPDATED for artifacts whose evidence changed.
// Reaction events are ordinary events. They pass the same validator, land
// in the same ledger, and are folded by the same rules, so replaying the
// ledger reproduces the state without re-running any component.
//
// A cycle guard drops a proposal identical to one already appended for the
// same submission, and a quota caps the reaction count, so every Append
// terminates.
//
// Ordering comes from ledger sequence numbers only. Wall-clock time is
// injected through Clock and recorded in event timestamps; reactions are
// assessed at the timestamp of the event they respond to.
package engine
