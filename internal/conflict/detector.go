// Package conflict finds contradictions between recorded facts and proposes
// CONFLICT_DETECTED events that reference them. It never edits or resolves
// anything.
package conflict

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

// Module is the actor name recorded on proposed events.
const Module = "conflict"

// Conflict types.
const (
	TypeFingerprintMismatch = "fingerprint_mismatch"
	TypeRelationExclusive   = "relation_exclusive"
	TypeTagContradiction    = "tag_contradiction"
	TypeRoleContradiction   = "role_contradiction"
	TypeSizeMismatch        = "size_mismatch"
)

// Pair is two mutually exclusive values.
type Pair [2]string

// other returns the value v excludes.
func (p Pair) other(v string) (string, bool) {
	switch v {
	case p[0]:
		return p[1], true
	case p[1]:
		return p[0], true
	}
	return "", false
}

// Config selects what counts as a contradiction.
type Config struct {
	// FingerprintWindow bounds how far apart two fingerprints of the same
	// locator may be and still conflict. Zero disables the rule.
	FingerprintWindow time.Duration `mapstructure:"fingerprint_window" yaml:"fingerprint_window"`

	// SizeTolerance is the relative size change, in millionths of the
	// smaller size, two fingerprints of one locator may show within
	// FingerprintWindow. A change from or to zero bytes always exceeds it.
	// Zero disables the rule.
	SizeTolerance ir.Score `mapstructure:"size_tolerance" yaml:"size_tolerance"`

	// ExclusiveRelations are relation types that cannot both hold from one
	// source to one target.
	ExclusiveRelations []Pair `mapstructure:"exclusive_relations" yaml:"exclusive_relations"`

	// ExclusiveTags are tags that cannot both be in the same group.
	ExclusiveTags []Pair `mapstructure:"exclusive_tags" yaml:"exclusive_tags"`

	// ExclusiveRoles are roles one artifact cannot hold together.
	ExclusiveRoles []Pair `mapstructure:"exclusive_roles" yaml:"exclusive_roles"`
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		FingerprintWindow: time.Hour,
		SizeTolerance:     100_000,
		ExclusiveRelations: []Pair{
			{"parent_of", "child_of"},
			{"duplicate_of", "distinct_from"},
		},
		ExclusiveTags: []Pair{
			{"generated", "handwritten"},
			{"binary", "text"},
		},
		ExclusiveRoles: []Pair{
			{"source", "build_output"},
		},
	}
}

// Validate rejects malformed pairs.
func (c Config) Validate() error {
	if c.FingerprintWindow < 0 {
		return fmt.Errorf("conflict.fingerprint_window must be >= 0, got %s", c.FingerprintWindow)
	}
	if c.SizeTolerance < 0 {
		return fmt.Errorf("conflict.size_tolerance must be >= 0, got %d", c.SizeTolerance)
	}
	for name, pairs := range map[string][]Pair{
		"exclusive_relations": c.ExclusiveRelations,
		"exclusive_tags":      c.ExclusiveTags,
		"exclusive_roles":     c.ExclusiveRoles,
	} {
		for _, p := range pairs {
			if p[0] == "" || p[1] == "" || p[0] == p[1] {
				return fmt.Errorf("conflict.%s: invalid pair %q", name, p)
			}
		}
	}
	return nil
}

// Finding is a detected contradiction before it becomes an event.
type Finding struct {
	Type        string
	ArtifactIDs []string
	EventRefs   []string
	Description string
}

// key identifies a finding by type and referenced events.
func (f Finding) key() string {
	refs := slices.Clone(f.EventRefs)
	slices.Sort(refs)
	return f.Type + "|" + strings.Join(refs, ",")
}

// Proposal converts the finding into a CONFLICT_DETECTED proposal.
func (f Finding) Proposal() ir.Proposal {
	payload := ir.IRObject{
		"artifact_ids":  ir.Strs(f.ArtifactIDs...),
		"conflict_type": ir.IRString(f.Type),
		"event_refs":    ir.Strs(f.EventRefs...),
	}
	if f.Description != "" {
		payload["description"] = ir.IRString(f.Description)
	}
	return ir.Proposal{Kind: ir.KindConflictDetected, Payload: payload, Module: Module}
}

// Detector inspects newly folded events against projected state.
type Detector struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a detector using cfg.
func New(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, logger: logger}
}

// Detect returns the contradictions introduced by events, which must
// already be folded into s. Conflicts already recorded in s (same type,
// same referenced events) are not reported again. Output follows event
// order.
func (d *Detector) Detect(s *projection.State, events []ir.Event) []Finding {
	seen := map[string]bool{}
	for _, c := range s.Conflicts {
		seen[Finding{Type: c.Type, EventRefs: c.EventRefs}.key()] = true
	}

	var out []Finding
	for _, ev := range events {
		var found []Finding
		switch ev.Kind {
		case ir.KindFingerprintComputed:
			found = append(d.fingerprint(s, ev), d.size(s, ev)...)
		case ir.KindRelationProposed:
			found = d.relation(s, ev)
		case ir.KindTagsProposed:
			found = d.tags(s, ev)
		case ir.KindRolesProposed:
			found = d.roles(s, ev)
		}
		for _, f := range found {
			k := f.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, f)
			d.logger.Info("conflict detected",
				zap.String("type", f.Type),
				zap.Strings("artifact_ids", f.ArtifactIDs),
				zap.Strings("event_refs", f.EventRefs),
			)
		}
	}
	return out
}

// Propose is Detect rendered as proposals.
func (d *Detector) Propose(s *projection.State, events []ir.Event) []ir.Proposal {
	findings := d.Detect(s, events)
	out := make([]ir.Proposal, len(findings))
	for i, f := range findings {
		out[i] = f.Proposal()
	}
	return out
}

// fingerprint compares ev with the latest earlier fingerprint observed at
// the same locator.
func (d *Detector) fingerprint(s *projection.State, ev ir.Event) []Finding {
	if d.cfg.FingerprintWindow <= 0 {
		return nil
	}
	a := active(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	hash, _ := ev.Payload.String("content_hash")
	if hash == "" {
		return nil
	}

	prev, owner := previous(s, a, ev, func(o ir.Observation) bool { return o.ContentHash != "" })
	if prev.EventID == "" || prev.ContentHash == hash {
		return nil
	}
	if ev.Timestamp.Sub(prev.Timestamp) > d.cfg.FingerprintWindow {
		return nil
	}

	return []Finding{{
		Type:        TypeFingerprintMismatch,
		ArtifactIDs: sortedIDs(a.ID, owner),
		EventRefs:   []string{prev.EventID, ev.EventID},
		Description: fmt.Sprintf("content hash %s then %s at %s within %s", short(prev.ContentHash), short(hash), a.Source.Locator, d.cfg.FingerprintWindow),
	}}
}

// size compares the size ev records with the latest earlier sized
// fingerprint at the same locator.
func (d *Detector) size(s *projection.State, ev ir.Event) []Finding {
	if d.cfg.FingerprintWindow <= 0 || d.cfg.SizeTolerance <= 0 {
		return nil
	}
	a := active(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	cur, ok := ev.Payload.Int("size_bytes")
	if !ok {
		return nil
	}

	prev, owner := previous(s, a, ev, func(o ir.Observation) bool { return o.SizeBytes != nil })
	if prev.EventID == "" || ev.Timestamp.Sub(prev.Timestamp) > d.cfg.FingerprintWindow {
		return nil
	}
	before := *prev.SizeBytes
	if !d.sizeDiverges(before, cur) {
		return nil
	}

	return []Finding{{
		Type:        TypeSizeMismatch,
		ArtifactIDs: sortedIDs(a.ID, owner),
		EventRefs:   []string{prev.EventID, ev.EventID},
		Description: fmt.Sprintf("size %d then %d bytes at %s within %s", before, cur, a.Source.Locator, d.cfg.FingerprintWindow),
	}}
}

func (d *Detector) sizeDiverges(a, b int64) bool {
	lo, hi := min(a, b), max(a, b)
	if lo == hi {
		return false
	}
	if lo == 0 {
		return true
	}
	return float64(hi-lo)/float64(lo) > d.cfg.SizeTolerance.Float()
}

// previous returns the latest fingerprint observation before ev, among
// every artifact seen at a's locator, that satisfies keep, along with the
// id of the artifact that holds it.
func previous(s *projection.State, a *ir.Artifact, ev ir.Event, keep func(ir.Observation) bool) (ir.Observation, string) {
	ids := []string{a.ID}
	if a.Source.Locator != "" {
		ids = s.Locators[a.Source.Locator]
	}

	var (
		prev  ir.Observation
		owner string
	)
	for _, id := range ids {
		other := s.Artifact(id)
		if other == nil {
			continue
		}
		for _, o := range other.Observations {
			if o.Kind != ir.KindFingerprintComputed || o.Sequence >= ev.Sequence || !keep(o) {
				continue
			}
			if o.Sequence > prev.Sequence {
				prev, owner = o, id
			}
		}
	}
	return prev, owner
}

func (d *Detector) relation(s *projection.State, ev ir.Event) []Finding {
	a := active(s, ev, "source_id")
	if a == nil {
		return nil
	}
	targetID, _ := ev.Payload.String("target_id")
	relType, _ := ev.Payload.String("relation_type")

	var out []Finding
	for _, p := range d.cfg.ExclusiveRelations {
		excluded, ok := p.other(relType)
		if !ok {
			continue
		}
		for _, r := range a.Relations {
			if r.TargetID != targetID || r.Type != excluded || len(r.EventIDs) == 0 {
				continue
			}
			out = append(out, Finding{
				Type:        TypeRelationExclusive,
				ArtifactIDs: sortedIDs(a.ID, targetID),
				EventRefs:   []string{r.EventIDs[0], ev.EventID},
				Description: fmt.Sprintf("%s both %s and %s %s", a.ID, excluded, relType, targetID),
			})
		}
	}
	return out
}

func (d *Detector) tags(s *projection.State, ev ir.Event) []Finding {
	a := active(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	group, _ := ev.Payload.String("tag_group")
	tags, _ := ev.Payload.Strings("tags")

	var out []Finding
	for _, tag := range sortedIDs(tags...) {
		for _, p := range d.cfg.ExclusiveTags {
			excluded, ok := p.other(tag)
			if !ok || !slices.Contains(a.Tags[group], excluded) {
				continue
			}
			// A conflict needs two facts, so a proposal contradicting
			// itself is not reported.
			src := a.TagSources[projection.TagKey(group, excluded)]
			if src == "" || src == ev.EventID {
				continue
			}
			out = append(out, Finding{
				Type:        TypeTagContradiction,
				ArtifactIDs: []string{a.ID},
				EventRefs:   []string{src, ev.EventID},
				Description: fmt.Sprintf("%s tagged both %s and %s in %s", a.ID, excluded, tag, group),
			})
		}
	}
	return out
}

func (d *Detector) roles(s *projection.State, ev ir.Event) []Finding {
	a := active(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	roles, _ := ev.Payload.Strings("roles")

	var out []Finding
	for _, role := range sortedIDs(roles...) {
		for _, p := range d.cfg.ExclusiveRoles {
			excluded, ok := p.other(role)
			if !ok || !slices.Contains(a.Roles, excluded) {
				continue
			}
			src := a.RoleSources[excluded]
			if src == "" || src == ev.EventID {
				continue
			}
			out = append(out, Finding{
				Type:        TypeRoleContradiction,
				ArtifactIDs: []string{a.ID},
				EventRefs:   []string{src, ev.EventID},
				Description: fmt.Sprintf("%s holds both %s and %s", a.ID, excluded, role),
			})
		}
	}
	return out
}

// active returns the artifact named by key unless it is missing or
// terminal.
func active(s *projection.State, ev ir.Event, key string) *ir.Artifact {
	id, _ := ev.Payload.String(key)
	a := s.Artifact(id)
	if a == nil || a.Lifecycle.Terminal() {
		return nil
	}
	return a
}

func sortedIDs(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
