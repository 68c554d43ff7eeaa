package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/testutil"
)

// Scenario is a scripted run against a fresh engine.
// Steps execute in order; Expect is checked against the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config holds configuration overrides keyed by dotted path, e.g.
	// "validation.mode" or "confidence.recency_weight".
	Config map[string]any `yaml:"config,omitempty"`

	Steps  []Step      `yaml:"steps"`
	Expect Expectation `yaml:"expect"`
}

// Step performs exactly one action.
type Step struct {
	// Candidate is submitted through Engine.Append.
	Candidate *CandidateSpec `yaml:"candidate,omitempty"`

	// ExpectError is the error code the append must fail with, e.g.
	// VALIDATION. Empty means the append must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectViolations lists violation paths the failure must report.
	ExpectViolations []string `yaml:"expect_violations,omitempty"`

	// ExpectQuarantined requires lenient validation to divert the candidate.
	ExpectQuarantined bool `yaml:"expect_quarantined,omitempty"`

	// ExpectReactions is the exact kind sequence of reaction events.
	ExpectReactions []string `yaml:"expect_reactions,omitempty"`

	// Advance moves the engine clock forward by a duration such as "48h".
	Advance string `yaml:"advance,omitempty"`

	// Decay runs the freshness decay sweep.
	Decay bool `yaml:"decay,omitempty"`

	// Checkpoint saves a snapshot.
	Checkpoint bool `yaml:"checkpoint,omitempty"`

	// TruncateLedger closes the engine, cuts this many bytes from the end
	// of the ledger file and reopens it.
	TruncateLedger int64 `yaml:"truncate_ledger,omitempty"`

	// Reopen closes and reopens the engine.
	Reopen bool `yaml:"reopen,omitempty"`
}

// CandidateSpec describes one submitted candidate.
type CandidateSpec struct {
	EventID string `yaml:"event_id"`

	// At is the offset of the timestamp from testutil.Epoch, e.g. "90s".
	At string `yaml:"at,omitempty"`

	// Timestamp overrides At with a raw value, which may be malformed.
	Timestamp string `yaml:"timestamp,omitempty"`

	Kind    string         `yaml:"kind"`
	Actor   string         `yaml:"actor,omitempty"`
	Session string         `yaml:"session,omitempty"`
	Payload map[string]any `yaml:"payload"`
}

// Expectation is checked after the last step.
type Expectation struct {
	Head          *uint64                        `yaml:"head,omitempty"`
	OpenConflicts *int                           `yaml:"open_conflicts,omitempty"`
	Rejections    *int                           `yaml:"rejections,omitempty"`
	Truncated     *bool                          `yaml:"truncated,omitempty"`
	Degraded      *bool                          `yaml:"degraded,omitempty"`
	Artifacts     map[string]ArtifactExpectation `yaml:"artifacts,omitempty"`
}

// ArtifactExpectation is a subset match on one artifact; unset fields are
// not checked.
type ArtifactExpectation struct {
	Absent      bool                `yaml:"absent,omitempty"`
	Lifecycle   string              `yaml:"lifecycle,omitempty"`
	ContentHash string              `yaml:"content_hash,omitempty"`
	Confidence  *int64              `yaml:"confidence,omitempty"`
	Conflicted  *bool               `yaml:"conflicted,omitempty"`
	Ambiguous   *bool               `yaml:"ambiguous,omitempty"`
	Tags        map[string][]string `yaml:"tags,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	actions := 0
	for _, set := range []bool{st.Candidate != nil, st.Advance != "", st.Decay, st.Checkpoint, st.TruncateLedger != 0, st.Reopen} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, actions)
	}

	if st.Candidate == nil {
		if st.ExpectError != "" || len(st.ExpectViolations) > 0 || st.ExpectQuarantined || len(st.ExpectReactions) > 0 {
			return fmt.Errorf("steps[%d]: expectations apply to candidate steps only", index)
		}
	}
	if st.Advance != "" {
		if _, err := time.ParseDuration(st.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	}
	if st.TruncateLedger < 0 {
		return fmt.Errorf("steps[%d]: truncate_ledger must be positive", index)
	}

	if c := st.Candidate; c != nil {
		if c.EventID == "" {
			return fmt.Errorf("steps[%d].candidate: event_id is required", index)
		}
		if c.Kind == "" {
			return fmt.Errorf("steps[%d].candidate: kind is required", index)
		}
		if c.At != "" {
			if _, err := time.ParseDuration(c.At); err != nil {
				return fmt.Errorf("steps[%d].candidate: at: %w", index, err)
			}
		}
		if st.ExpectError != "" && (st.ExpectQuarantined || len(st.ExpectReactions) > 0) {
			return fmt.Errorf("steps[%d]: expect_error excludes other expectations", index)
		}
	}
	return nil
}

// candidate renders the step template as a candidate. The payload is passed
// through JSON untouched so malformed values reach the validator.
func (c *CandidateSpec) candidate() (ir.Candidate, error) {
	ts := c.Timestamp
	if ts == "" {
		var offset time.Duration
		if c.At != "" {
			d, err := time.ParseDuration(c.At)
			if err != nil {
				return ir.Candidate{}, err
			}
			offset = d
		}
		ts = ir.FormatTimestamp(testutil.Epoch.Add(offset))
	}

	payload := c.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ir.Candidate{}, fmt.Errorf("encode payload: %w", err)
	}

	out := ir.Candidate{
		EventID:   c.EventID,
		Timestamp: ts,
		Kind:      c.Kind,
		SessionID: c.Session,
		Payload:   raw,
	}
	if c.Actor != "" {
		out.Actor = &ir.Actor{Module: c.Actor}
	}
	return out, nil
}
