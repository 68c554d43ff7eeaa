package ir

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire layout for event timestamps.
const TimestampLayout = time.RFC3339Nano

// Actor names the module that produced a candidate.
type Actor struct {
	Module string `json:"module"`
}

// Candidate is an unvalidated event submission.
//
// Timestamp and Kind are kept as raw strings so the validator can report
// malformed values as violations instead of decode failures.
type Candidate struct {
	EventID   string          `json:"event_id"`
	Timestamp string          `json:"timestamp"`
	Kind      string          `json:"kind"`
	Actor     *Actor          `json:"actor,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// NewCandidate builds a candidate from a typed payload.
func NewCandidate(eventID string, ts time.Time, kind Kind, payload IRObject) (Candidate, error) {
	raw, err := payload.MarshalJSON()
	if err != nil {
		return Candidate{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Candidate{
		EventID:   eventID,
		Timestamp: FormatTimestamp(ts),
		Kind:      string(kind),
		Payload:   raw,
	}, nil
}

// Event is a validated, immutable ledger record.
//
// Field order matches the on-disk record layout and must not change:
// sequence, event_id, timestamp, kind, payload, checksum.
type Event struct {
	Sequence  uint64    `json:"sequence"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Payload   IRObject  `json:"payload"`
	Checksum  string    `json:"checksum"`
}

// FormatTimestamp renders ts in UTC with nanosecond precision.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// Seal assigns the sequence and computes the checksum.
func (e Event) Seal(seq uint64) (Event, error) {
	e.Sequence = seq
	e.Timestamp = e.Timestamp.UTC()
	sum, err := EventChecksum(e)
	if err != nil {
		return Event{}, err
	}
	e.Checksum = sum
	return e, nil
}

// Verify recomputes the checksum and compares it with the recorded one.
func (e Event) Verify() error {
	sum, err := EventChecksum(e)
	if err != nil {
		return err
	}
	if sum != e.Checksum {
		return fmt.Errorf("checksum mismatch at sequence %d: recorded %s, computed %s", e.Sequence, e.Checksum, sum)
	}
	return nil
}

// MarshalRecord encodes the event as one ledger line, newline included.
func MarshalRecord(e Event) ([]byte, error) {
	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal record %d: %w", e.Sequence, err)
	}
	return append(line, '\n'), nil
}

// UnmarshalRecord decodes one ledger line. The trailing newline is optional.
func UnmarshalRecord(line []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(line, &e); err != nil {
		return Event{}, err
	}
	if e.Payload == nil {
		e.Payload = IRObject{}
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// ArtifactRefs returns every artifact id the event's payload refers to.
func (e Event) ArtifactRefs() []string {
	var refs []string
	for _, key := range []string{"artifact_id", "old_artifact_id", "new_artifact_id", "source_id", "target_id"} {
		if id, ok := e.Payload.String(key); ok && id != "" {
			refs = append(refs, id)
		}
	}
	if ids, ok := e.Payload.Strings("artifact_ids"); ok {
		refs = append(refs, ids...)
	}
	return refs
}

// Proposal is an event a reacting component wants appended. The engine
// assigns the event id and timestamp and submits it through the validator
// like any other candidate.
type Proposal struct {
	Kind    Kind
	Payload IRObject

	// Module names the component that proposed the event.
	Module string
}

// Candidate converts the proposal into a submission.
func (p Proposal) Candidate(eventID string, ts time.Time) (Candidate, error) {
	c, err := NewCandidate(eventID, ts, p.Kind, p.Payload)
	if err != nil {
		return Candidate{}, err
	}
	if p.Module != "" {
		c.Actor = &Actor{Module: p.Module}
	}
	return c, nil
}
