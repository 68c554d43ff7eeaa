package ir

import "slices"

// Kind identifies the type of an event. The set is closed; the registry
// declares a payload schema for each member.
type Kind string

const (
	KindArtifactSeen          Kind = "ARTIFACT_SEEN"
	KindFingerprintComputed   Kind = "FINGERPRINT_COMPUTED"
	KindExtractionPerformed   Kind = "EXTRACTION_PERFORMED"
	KindAccessLimitationNoted Kind = "ACCESS_LIMITATION_NOTED"
	KindRemoteLookupDeclined  Kind = "REMOTE_LOOKUP_DECLINED"
	KindTagsProposed          Kind = "TAGS_PROPOSED"
	KindRolesProposed         Kind = "ROLES_PROPOSED"
	KindRelationProposed      Kind = "RELATION_PROPOSED"
	KindConflictDetected      Kind = "CONFLICT_DETECTED"
	KindConflictResolved      Kind = "CONFLICT_RESOLVED"
	KindHypothesisNoted       Kind = "HYPOTHESIS_NOTED"
	KindConfidenceUpdated     Kind = "CONFIDENCE_UPDATED"
	KindFreshnessDecayApplied Kind = "FRESHNESS_DECAY_APPLIED"
	KindArtifactSuperseded    Kind = "ARTIFACT_SUPERSEDED"
	KindArchived              Kind = "ARCHIVED"
	KindProvenanceRecorded    Kind = "PROVENANCE_RECORDED"
	KindSessionStarted        Kind = "SESSION_STARTED"
	KindSessionEnded          Kind = "SESSION_ENDED"
)

var knownKinds = map[Kind]bool{
	KindArtifactSeen:          true,
	KindFingerprintComputed:   true,
	KindExtractionPerformed:   true,
	KindAccessLimitationNoted: true,
	KindRemoteLookupDeclined:  true,
	KindTagsProposed:          true,
	KindRolesProposed:         true,
	KindRelationProposed:      true,
	KindConflictDetected:      true,
	KindConflictResolved:      true,
	KindHypothesisNoted:       true,
	KindConfidenceUpdated:     true,
	KindFreshnessDecayApplied: true,
	KindArtifactSuperseded:    true,
	KindArchived:              true,
	KindProvenanceRecorded:    true,
	KindSessionStarted:        true,
	KindSessionEnded:          true,
}

// Known reports whether k is a member of the closed kind enumeration.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Kinds returns every known kind in lexical order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
