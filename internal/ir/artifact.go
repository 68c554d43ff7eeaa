package ir

import "time"

// Lifecycle is the derived lifecycle stage of an artifact.
type Lifecycle string

const (
	LifecycleSeen          Lifecycle = "seen"
	LifecycleFingerprinted Lifecycle = "fingerprinted"
	LifecycleExtracted     Lifecycle = "extracted"
	LifecycleSuperseded    Lifecycle = "superseded"
	LifecycleArchived      Lifecycle = "archived"
)

// Terminal reports whether no further extraction is applied in this stage.
func (l Lifecycle) Terminal() bool {
	return l == LifecycleSuperseded || l == LifecycleArchived
}

// Ambiguity flags recorded on an artifact's confidence.
const (
	AmbiguityConflictingEvidence = "conflicting_evidence"
	AmbiguityPartialAccess       = "partial_access"
	AmbiguityIncompleteData      = "incomplete_data"
	AmbiguityStaleObservation    = "stale_observation"
)

// Provenance actions.
const (
	ProvenanceCreated     = "created"
	ProvenanceTransformed = "transformed"
	ProvenanceCopied      = "copied"
	ProvenanceSuperseded  = "superseded"
)

// Tag groups.
const (
	TagGroupStructural = "structural"
	TagGroupSemantic   = "semantic"
	TagGroupFunctional = "functional"
	TagGroupTemporal   = "temporal"
	TagGroupRisk       = "risk"
)

// Artifact is the projected state of one observed artifact.
// Set-valued fields are kept as sorted, de-duplicated slices.
type Artifact struct {
	ID        string    `json:"artifact_id"`
	Kind      string    `json:"kind"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Source      Source      `json:"source"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Extraction  Extraction  `json:"extraction"`
	Confidence  Confidence  `json:"confidence"`

	Tags      map[string][]string `json:"tags"`
	Roles     []string            `json:"roles"`
	Relations []Relation          `json:"relations"`

	// TagSources maps "group/tag" to the event that first proposed it;
	// RoleSources does the same for roles.
	TagSources  map[string]string `json:"tag_sources,omitempty"`
	RoleSources map[string]string `json:"role_sources,omitempty"`

	Provenance   []ProvenanceEntry `json:"provenance"`
	Temporal     Temporal          `json:"temporal"`
	Observations []Observation     `json:"observations"`
	Limitations  []Limitation      `json:"limitations"`

	Lifecycle    Lifecycle `json:"lifecycle"`
	Conflicted   bool      `json:"conflicted"`
	SupersededBy string    `json:"superseded_by,omitempty"`
	Supersedes   []string  `json:"supersedes,omitempty"`

	// IgnoredEvents lists events folded after the artifact became terminal
	// whose effect was suppressed.
	IgnoredEvents []string `json:"ignored_events,omitempty"`

	// Events lists every event id that touched this artifact, in order.
	Events []string `json:"events"`
}

// Ambiguous reports whether any ambiguity flag is set.
func (a *Artifact) Ambiguous() bool {
	return len(a.Confidence.AmbiguityFlags) > 0
}

// Source describes where an artifact was observed.
type Source struct {
	Type        string `json:"type,omitempty"`
	Locator     string `json:"locator"`
	AccessScope string `json:"access_scope,omitempty"`
}

// Fingerprint holds incrementally filled identity signals. Each field keeps
// the most recent non-empty observation.
type Fingerprint struct {
	ContentHash      string   `json:"content_hash,omitempty"`
	StructureHash    string   `json:"structure_hash,omitempty"`
	SizeBytes        *int64   `json:"size_bytes,omitempty"`
	EntropyMillibits *int64   `json:"entropy_millibits,omitempty"`
	SignatureTags    []string `json:"signature_tags,omitempty"`

	// Sources maps each field to the event that last set it.
	Sources map[string]string `json:"sources,omitempty"`
}

// Extraction is the last extraction outcome.
type Extraction struct {
	Performed bool     `json:"performed"`
	Depth     string   `json:"depth,omitempty"`
	Schema    string   `json:"schema,omitempty"`
	Metadata  IRObject `json:"metadata,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	EventID   string   `json:"event_id,omitempty"`
}

// Contribution is one signed term of a derived score.
type Contribution struct {
	EventID string `json:"event_id"`
	Signal  string `json:"signal"`
	Delta   Score  `json:"delta"`
}

// Confidence is evidence-derived belief strength in an artifact's facts.
type Confidence struct {
	Set            bool           `json:"set"`
	Score          Score          `json:"score"`
	Reasoning      []Contribution `json:"reasoning"`
	Evidence       []string       `json:"evidence"`
	AmbiguityFlags []string       `json:"ambiguity_flags"`
	UpdatedBy      string         `json:"updated_by,omitempty"`
}

// Relation is an outgoing typed relation.
type Relation struct {
	TargetID    string   `json:"target_id"`
	Type        string   `json:"type"`
	Weight      Score    `json:"weight"`
	Directional bool     `json:"directional"`
	EventIDs    []string `json:"event_ids"`
}

// ProvenanceEntry is one step of an artifact's history.
type ProvenanceEntry struct {
	Action    string    `json:"action"`
	EventID   string    `json:"event_id"`
	Ref       string    `json:"ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Temporal carries change history and derived freshness signals.
type Temporal struct {
	Changes []Change `json:"changes"`

	// Volatility is changes per observation, clamped to [0, 1].
	Volatility Score `json:"volatility"`

	// Freshness is the product of applied decay factors since the last
	// observation. It resets to 1 on every observation.
	Freshness Score `json:"freshness"`
}

// Change records a fact that changed value.
type Change struct {
	EventID   string    `json:"event_id"`
	Field     string    `json:"field"`
	Timestamp time.Time `json:"timestamp"`
}

// Observation is a single direct observation of the artifact.
type Observation struct {
	EventID     string    `json:"event_id"`
	Sequence    uint64    `json:"sequence"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash,omitempty"`
	SizeBytes   *int64    `json:"size_bytes,omitempty"`
}

// Limitation records an access limitation.
type Limitation struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Reason  string `json:"reason,omitempty"`
}

// ConflictRecord is a recorded contradiction. It stays open unless a
// CONFLICT_RESOLVED event references it; open is a permanent valid state.
type ConflictRecord struct {
	ID          string    `json:"conflict_id"`
	Type        string    `json:"conflict_type"`
	ArtifactIDs []string  `json:"artifact_ids"`
	EventRefs   []string  `json:"event_refs"`
	Description string    `json:"description,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
	Resolution  string    `json:"resolution,omitempty"`
	ResolvedBy  string    `json:"resolved_by,omitempty"`
}

// Open reports whether the conflict has no recorded resolution.
func (c ConflictRecord) Open() bool {
	return c.ResolvedBy == ""
}

// Hypothesis is an unverified interpretation.
type Hypothesis struct {
	EventID     string   `json:"event_id"`
	Text        string   `json:"hypothesis"`
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
	Evidence    []string `json:"supporting_evidence,omitempty"`
}
