// Package projection folds ledger events into artifact state.
//
// The fold is a pure function of the event prefix: the same prefix always
// yields byte-identical state, and folding [0, k) then [k, n) yields the same
// state as folding [0, n) in one pass. Exactly one rule exists per event
// kind; events of kinds without a rule advance the position and are counted
// but change nothing else.
package projection

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/roach88/atlas/internal/ir"
)

// State is the projected state at ledger position Position, i.e. after
// folding events 1..Position.
type State struct {
	Position uint64 `json:"position"`

	// Checksum is the checksum of the event at Position, used to check
	// that a snapshot still matches the ledger it was taken from.
	Checksum string `json:"checksum"`

	LastTimestamp time.Time `json:"last_timestamp"`

	Artifacts  map[string]*ir.Artifact `json:"artifacts"`
	Conflicts  []ir.ConflictRecord     `json:"conflicts"`
	Hypotheses []ir.Hypothesis         `json:"hypotheses"`

	// Limitations holds limitations and declined lookups not tied to an
	// artifact, such as budget exhaustion.
	Limitations []ir.Limitation `json:"limitations"`

	// Locators maps a source locator to the artifacts observed there.
	Locators map[string][]string `json:"locators"`

	KindCounts map[ir.Kind]uint64 `json:"kind_counts"`

	// Unhandled lists events whose kind has no rule, or whose target
	// artifact had not been seen when they were folded.
	Unhandled []string `json:"unhandled"`
}

// New returns the empty state at position 0.
func New() *State {
	return &State{
		Artifacts:   map[string]*ir.Artifact{},
		Conflicts:   []ir.ConflictRecord{},
		Hypotheses:  []ir.Hypothesis{},
		Limitations: []ir.Limitation{},
		Locators:    map[string][]string{},
		KindCounts:  map[ir.Kind]uint64{},
		Unhandled:   []string{},
	}
}

// Artifact returns the artifact with id, or nil.
func (s *State) Artifact(id string) *ir.Artifact {
	return s.Artifacts[id]
}

// ArtifactIDs returns all artifact ids in sorted order.
func (s *State) ArtifactIDs() []string {
	ids := slices.Collect(maps.Keys(s.Artifacts))
	sort.Strings(ids)
	return ids
}

// OpenConflicts returns unresolved conflicts referencing artifactID, in
// detection order. An empty artifactID returns every open conflict.
func (s *State) OpenConflicts(artifactID string) []ir.ConflictRecord {
	out := []ir.ConflictRecord{}
	for _, c := range s.Conflicts {
		if !c.Open() {
			continue
		}
		if artifactID == "" || slices.Contains(c.ArtifactIDs, artifactID) {
			out = append(out, c)
		}
	}
	return out
}

// Conflict returns the conflict record with id.
func (s *State) Conflict(id string) (ir.ConflictRecord, bool) {
	for _, c := range s.Conflicts {
		if c.ID == id {
			return c, true
		}
	}
	return ir.ConflictRecord{}, false
}

// ByContentHash returns the ids of artifacts whose current content hash is
// hash, sorted.
func (s *State) ByContentHash(hash string) []string {
	var out []string
	for id, a := range s.Artifacts {
		if hash != "" && a.Fingerprint.ContentHash == hash {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Incoming returns relations pointing at artifactID keyed by source id.
func (s *State) Incoming(artifactID string) map[string][]ir.Relation {
	out := map[string][]ir.Relation{}
	for id, a := range s.Artifacts {
		for _, r := range a.Relations {
			if r.TargetID == artifactID {
				out[id] = append(out[id], r)
			}
		}
	}
	return out
}

// Encode returns the deterministic JSON encoding of the state.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}

// Decode parses a state encoded with Encode.
func Decode(data []byte) (*State, error) {
	s := New()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s.normalize()
	return s, nil
}

// Digest is a domain-separated hash of the encoded state. Two states with
// equal digests are byte-identical.
func (s *State) Digest() (string, error) {
	data, err := s.Encode()
	if err != nil {
		return "", err
	}
	return ir.HashWithDomain(ir.DomainState, data), nil
}

// normalize replaces nil containers left by decoding so decoded and freshly
// folded states compare equal.
func (s *State) normalize() {
	if s.Artifacts == nil {
		s.Artifacts = map[string]*ir.Artifact{}
	}
	if s.Conflicts == nil {
		s.Conflicts = []ir.ConflictRecord{}
	}
	if s.Hypotheses == nil {
		s.Hypotheses = []ir.Hypothesis{}
	}
	if s.Limitations == nil {
		s.Limitations = []ir.Limitation{}
	}
	if s.Locators == nil {
		s.Locators = map[string][]string{}
	}
	if s.KindCounts == nil {
		s.KindCounts = map[ir.Kind]uint64{}
	}
	if s.Unhandled == nil {
		s.Unhandled = []string{}
	}
	s.LastTimestamp = s.LastTimestamp.UTC()
}

// Clone returns a deep copy. Folding into the copy never affects s.
func (s *State) Clone() *State {
	out := &State{
		Position:      s.Position,
		Checksum:      s.Checksum,
		LastTimestamp: s.LastTimestamp,
		Artifacts:     make(map[string]*ir.Artifact, len(s.Artifacts)),
		Conflicts:     make([]ir.ConflictRecord, len(s.Conflicts)),
		Hypotheses:    make([]ir.Hypothesis, len(s.Hypotheses)),
		Limitations:   slices.Clone(s.Limitations),
		Locators:      make(map[string][]string, len(s.Locators)),
		KindCounts:    maps.Clone(s.KindCounts),
		Unhandled:     slices.Clone(s.Unhandled),
	}
	for id, a := range s.Artifacts {
		out.Artifacts[id] = cloneArtifact(a)
	}
	for i, c := range s.Conflicts {
		c.ArtifactIDs = slices.Clone(c.ArtifactIDs)
		c.EventRefs = slices.Clone(c.EventRefs)
		out.Conflicts[i] = c
	}
	for i, h := range s.Hypotheses {
		h.ArtifactIDs = slices.Clone(h.ArtifactIDs)
		h.Evidence = slices.Clone(h.Evidence)
		out.Hypotheses[i] = h
	}
	for loc, ids := range s.Locators {
		out.Locators[loc] = slices.Clone(ids)
	}
	if out.Limitations == nil {
		out.Limitations = []ir.Limitation{}
	}
	if out.Unhandled == nil {
		out.Unhandled = []string{}
	}
	if out.KindCounts == nil {
		out.KindCounts = map[ir.Kind]uint64{}
	}
	return out
}

func cloneArtifact(a *ir.Artifact) *ir.Artifact {
	c := *a

	c.Fingerprint.SizeBytes = cloneInt(a.Fingerprint.SizeBytes)
	c.Fingerprint.EntropyMillibits = cloneInt(a.Fingerprint.EntropyMillibits)
	c.Fingerprint.SignatureTags = slices.Clone(a.Fingerprint.SignatureTags)
	c.Fingerprint.Sources = maps.Clone(a.Fingerprint.Sources)

	c.Extraction.Metadata = a.Extraction.Metadata.Clone()
	c.Extraction.Errors = slices.Clone(a.Extraction.Errors)

	c.Confidence.Reasoning = slices.Clone(a.Confidence.Reasoning)
	c.Confidence.Evidence = slices.Clone(a.Confidence.Evidence)
	c.Confidence.AmbiguityFlags = slices.Clone(a.Confidence.AmbiguityFlags)

	c.Tags = make(map[string][]string, len(a.Tags))
	for g, tags := range a.Tags {
		c.Tags[g] = slices.Clone(tags)
	}
	c.Roles = slices.Clone(a.Roles)
	c.TagSources = maps.Clone(a.TagSources)
	c.RoleSources = maps.Clone(a.RoleSources)
	c.Relations = slices.Clone(a.Relations)
	for i := range c.Relations {
		c.Relations[i].EventIDs = slices.Clone(c.Relations[i].EventIDs)
	}

	c.Provenance = slices.Clone(a.Provenance)
	c.Temporal.Changes = slices.Clone(a.Temporal.Changes)
	c.Observations = slices.Clone(a.Observations)
	c.Limitations = slices.Clone(a.Limitations)
	c.Supersedes = slices.Clone(a.Supersedes)
	c.IgnoredEvents = slices.Clone(a.IgnoredEvents)
	c.Events = slices.Clone(a.Events)
	return &c
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
