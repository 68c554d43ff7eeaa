package projection

import (
	"slices"
	"sort"
	"strings"

	"github.com/roach88/atlas/internal/ir"
)

// reducer applies one event to the state in place and returns the ids of
// artifacts it touched.
type reducer func(s *State, ev ir.Event) []string

// reducers holds exactly one rule per kind.
var reducers = map[ir.Kind]reducer{
	ir.KindArtifactSeen:          reduceArtifactSeen,
	ir.KindFingerprintComputed:   reduceFingerprint,
	ir.KindExtractionPerformed:   reduceExtraction,
	ir.KindAccessLimitationNoted: reduceAccessLimitation,
	ir.KindRemoteLookupDeclined:  reduceRemoteLookupDeclined,
	ir.KindTagsProposed:          reduceTags,
	ir.KindRolesProposed:         reduceRoles,
	ir.KindRelationProposed:      reduceRelation,
	ir.KindConflictDetected:      reduceConflictDetected,
	ir.KindConflictResolved:      reduceConflictResolved,
	ir.KindHypothesisNoted:       reduceHypothesis,
	ir.KindConfidenceUpdated:     reduceConfidence,
	ir.KindFreshnessDecayApplied: reduceDecay,
	ir.KindArtifactSuperseded:    reduceSuperseded,
	ir.KindArchived:              reduceArchived,
	ir.KindProvenanceRecorded:    reduceProvenance,
	ir.KindSessionStarted:        reduceSession,
	ir.KindSessionEnded:          reduceSession,
}

func reduceArtifactSeen(s *State, ev ir.Event) []string {
	id, _ := ev.Payload.String("artifact_id")
	locator, _ := ev.Payload.String("locator")
	if id == "" {
		return nil
	}

	a, ok := s.Artifacts[id]
	if !ok {
		a = &ir.Artifact{
			ID:        id,
			Kind:      "local",
			FirstSeen: ev.Timestamp,
			LastSeen:  ev.Timestamp,
			Tags:      map[string][]string{},
			Lifecycle: ir.LifecycleSeen,
			Temporal:  ir.Temporal{Freshness: ir.ScoreOne},
			Provenance: []ir.ProvenanceEntry{{
				Action:    ir.ProvenanceCreated,
				EventID:   ev.EventID,
				Timestamp: ev.Timestamp,
			}},
		}
		s.Artifacts[id] = a
	}

	if locator != "" && locator != a.Source.Locator {
		if a.Source.Locator != "" {
			removeLocator(s, a.Source.Locator, id)
			a.Temporal.Changes = append(a.Temporal.Changes, ir.Change{EventID: ev.EventID, Field: "locator", Timestamp: ev.Timestamp})
		}
		a.Source.Locator = locator
		s.Locators[locator] = insertSorted(s.Locators[locator], id)
	}
	if v, ok := ev.Payload.String("artifact_kind"); ok {
		a.Kind = v
	}
	if v, ok := ev.Payload.String("source_type"); ok {
		a.Source.Type = v
	}
	if v, ok := ev.Payload.String("access_scope"); ok {
		a.Source.AccessScope = v
	}
	if v, ok := ev.Payload.Int("size_bytes"); ok {
		setSize(a, v, ev)
	}

	observe(a, ev, "", nil)
	return []string{id}
}

func reduceFingerprint(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	if a.Lifecycle.Terminal() {
		a.IgnoredEvents = append(a.IgnoredEvents, ev.EventID)
		return []string{a.ID}
	}

	fp := &a.Fingerprint
	if fp.Sources == nil {
		fp.Sources = map[string]string{}
	}
	hash, _ := ev.Payload.String("content_hash")
	if hash != "" {
		if fp.ContentHash != "" && fp.ContentHash != hash {
			a.Temporal.Changes = append(a.Temporal.Changes, ir.Change{EventID: ev.EventID, Field: "content_hash", Timestamp: ev.Timestamp})
		}
		fp.ContentHash = hash
		fp.Sources["content_hash"] = ev.EventID
	}
	if v, ok := ev.Payload.String("structure_hash"); ok && v != "" {
		fp.StructureHash = v
		fp.Sources["structure_hash"] = ev.EventID
	}
	var size *int64
	if v, ok := ev.Payload.Int("size_bytes"); ok {
		setSize(a, v, ev)
		size = &v
	}
	if v, ok := ev.Payload.Int("entropy_millibits"); ok {
		fp.EntropyMillibits = &v
		fp.Sources["entropy_millibits"] = ev.EventID
	}
	if v, ok := ev.Payload.Strings("signature_tags"); ok && len(v) > 0 {
		fp.SignatureTags = sortedSet(v)
		fp.Sources["signature_tags"] = ev.EventID
	}

	if a.Lifecycle == ir.LifecycleSeen {
		a.Lifecycle = ir.LifecycleFingerprinted
	}
	observe(a, ev, hash, size)
	return []string{a.ID}
}

func reduceExtraction(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	if a.Lifecycle.Terminal() {
		a.IgnoredEvents = append(a.IgnoredEvents, ev.EventID)
		return []string{a.ID}
	}

	x := ir.Extraction{Performed: true, EventID: ev.EventID}
	x.Depth, _ = ev.Payload.String("extraction_depth")
	x.Schema, _ = ev.Payload.String("extracted_schema")
	if md, ok := ev.Payload.Object("extracted_metadata"); ok && len(md) > 0 {
		x.Metadata = md.Clone()
	}
	if errs, ok := ev.Payload.Strings("extraction_errors"); ok && len(errs) > 0 {
		x.Errors = slices.Clone(errs)
	}
	a.Extraction = x
	a.Lifecycle = ir.LifecycleExtracted
	return []string{a.ID}
}

func reduceAccessLimitation(s *State, ev ir.Event) []string {
	lim := ir.Limitation{EventID: ev.EventID}
	lim.Type, _ = ev.Payload.String("limitation_type")
	lim.Reason, _ = ev.Payload.String("reason")

	id, _ := ev.Payload.String("artifact_id")
	if a := s.Artifacts[id]; a != nil {
		a.Limitations = append(a.Limitations, lim)
		return []string{id}
	}
	s.Limitations = append(s.Limitations, lim)
	return nil
}

func reduceRemoteLookupDeclined(s *State, ev ir.Event) []string {
	url, _ := ev.Payload.String("url")
	reason, _ := ev.Payload.String("reason")
	s.Limitations = append(s.Limitations, ir.Limitation{
		EventID: ev.EventID,
		Type:    "remote_declined",
		Reason:  strings.TrimSpace(url + " " + reason),
	})
	return nil
}

func reduceTags(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	group, _ := ev.Payload.String("tag_group")
	tags, _ := ev.Payload.Strings("tags")
	if group == "" || len(tags) == 0 {
		return []string{a.ID}
	}
	a.Tags[group] = sortedSet(append(slices.Clone(a.Tags[group]), tags...))
	if a.TagSources == nil {
		a.TagSources = map[string]string{}
	}
	for _, tag := range tags {
		key := TagKey(group, tag)
		if _, ok := a.TagSources[key]; !ok {
			a.TagSources[key] = ev.EventID
		}
	}
	return []string{a.ID}
}

func reduceRoles(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	roles, _ := ev.Payload.Strings("roles")
	if len(roles) > 0 {
		a.Roles = sortedSet(append(slices.Clone(a.Roles), roles...))
		if a.RoleSources == nil {
			a.RoleSources = map[string]string{}
		}
		for _, role := range roles {
			if _, ok := a.RoleSources[role]; !ok {
				a.RoleSources[role] = ev.EventID
			}
		}
	}
	return []string{a.ID}
}

func reduceRelation(s *State, ev ir.Event) []string {
	a := target(s, ev, "source_id")
	if a == nil {
		return nil
	}
	targetID, _ := ev.Payload.String("target_id")
	relType, _ := ev.Payload.String("relation_type")

	idx := slices.IndexFunc(a.Relations, func(r ir.Relation) bool {
		return r.TargetID == targetID && r.Type == relType
	})
	if idx < 0 {
		a.Relations = append(a.Relations, ir.Relation{
			TargetID:    targetID,
			Type:        relType,
			Weight:      ir.ScoreOne,
			Directional: true,
		})
		sort.SliceStable(a.Relations, func(i, j int) bool {
			if a.Relations[i].TargetID != a.Relations[j].TargetID {
				return a.Relations[i].TargetID < a.Relations[j].TargetID
			}
			return a.Relations[i].Type < a.Relations[j].Type
		})
		idx = slices.IndexFunc(a.Relations, func(r ir.Relation) bool {
			return r.TargetID == targetID && r.Type == relType
		})
	}

	r := &a.Relations[idx]
	r.EventIDs = append(r.EventIDs, ev.EventID)
	if w, ok := ev.Payload.Score("weight"); ok {
		r.Weight = w
	}
	if d, ok := ev.Payload.Bool("directional"); ok {
		r.Directional = d
	}

	touched := []string{a.ID}
	if s.Artifacts[targetID] != nil && targetID != a.ID {
		touched = append(touched, targetID)
	}
	return touched
}

func reduceConflictDetected(s *State, ev ir.Event) []string {
	ids, _ := ev.Payload.Strings("artifact_ids")
	refs, _ := ev.Payload.Strings("event_refs")
	rec := ir.ConflictRecord{
		ID:          ev.EventID,
		ArtifactIDs: sortedSet(ids),
		EventRefs:   slices.Clone(refs),
		DetectedAt:  ev.Timestamp,
	}
	rec.Type, _ = ev.Payload.String("conflict_type")
	rec.Description, _ = ev.Payload.String("description")
	s.Conflicts = append(s.Conflicts, rec)

	var touched []string
	for _, id := range rec.ArtifactIDs {
		if s.Artifacts[id] != nil {
			touched = append(touched, id)
		}
	}
	return touched
}

func reduceConflictResolved(s *State, ev ir.Event) []string {
	id, _ := ev.Payload.String("conflict_id")
	resolution, _ := ev.Payload.String("resolution")
	for i := range s.Conflicts {
		c := &s.Conflicts[i]
		if c.ID != id || !c.Open() {
			continue
		}
		c.Resolution = resolution
		c.ResolvedBy = ev.EventID
		var touched []string
		for _, aid := range c.ArtifactIDs {
			if s.Artifacts[aid] != nil {
				touched = append(touched, aid)
			}
		}
		return touched
	}
	s.Unhandled = append(s.Unhandled, ev.EventID)
	return nil
}

func reduceHypothesis(s *State, ev ir.Event) []string {
	h := ir.Hypothesis{EventID: ev.EventID}
	h.Text, _ = ev.Payload.String("hypothesis")
	if ids, ok := ev.Payload.Strings("artifact_ids"); ok && len(ids) > 0 {
		h.ArtifactIDs = sortedSet(ids)
	}
	if refs, ok := ev.Payload.Strings("supporting_evidence"); ok && len(refs) > 0 {
		h.Evidence = slices.Clone(refs)
	}
	s.Hypotheses = append(s.Hypotheses, h)
	return nil
}

// reduceConfidence replaces score, reasoning and evidence in one step.
func reduceConfidence(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	score, _ := ev.Payload.Score("new_score")
	reasoning := decodeReasoning(ev.Payload)

	evidence := make([]string, 0, len(reasoning))
	for _, c := range reasoning {
		if c.EventID != "" && !slices.Contains(evidence, c.EventID) {
			evidence = append(evidence, c.EventID)
		}
	}

	a.Confidence.Set = true
	a.Confidence.Score = score.Clamp()
	a.Confidence.Reasoning = reasoning
	a.Confidence.Evidence = evidence
	a.Confidence.UpdatedBy = ev.EventID
	return []string{a.ID}
}

func reduceDecay(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	factor, _ := ev.Payload.Score("decay_factor")
	factor = factor.Clamp()

	a.Temporal.Freshness = a.Temporal.Freshness.Mul(factor)
	if a.Confidence.Set {
		before := a.Confidence.Score
		a.Confidence.Score = before.Mul(factor).Clamp()
		a.Confidence.Reasoning = append(a.Confidence.Reasoning, ir.Contribution{
			EventID: ev.EventID,
			Signal:  "decay",
			Delta:   a.Confidence.Score - before,
		})
		a.Confidence.UpdatedBy = ev.EventID
	}
	return []string{a.ID}
}

func reduceSuperseded(s *State, ev ir.Event) []string {
	oldID, _ := ev.Payload.String("old_artifact_id")
	newID, _ := ev.Payload.String("new_artifact_id")
	var touched []string

	if old := s.Artifacts[oldID]; old != nil {
		old.Lifecycle = ir.LifecycleSuperseded
		old.SupersededBy = newID
		old.Provenance = append(old.Provenance, ir.ProvenanceEntry{
			Action:    ir.ProvenanceSuperseded,
			EventID:   ev.EventID,
			Ref:       newID,
			Timestamp: ev.Timestamp,
		})
		touched = append(touched, oldID)
	}
	if successor := s.Artifacts[newID]; successor != nil && newID != oldID {
		successor.Supersedes = sortedSet(append(successor.Supersedes, oldID))
		successor.Provenance = append(successor.Provenance, ir.ProvenanceEntry{
			Action:    ir.ProvenanceTransformed,
			EventID:   ev.EventID,
			Ref:       oldID,
			Timestamp: ev.Timestamp,
		})
		touched = append(touched, newID)
	}
	if len(touched) == 0 {
		s.Unhandled = append(s.Unhandled, ev.EventID)
	}
	return touched
}

func reduceArchived(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	if a.Lifecycle != ir.LifecycleSuperseded {
		a.Lifecycle = ir.LifecycleArchived
	}
	return []string{a.ID}
}

func reduceProvenance(s *State, ev ir.Event) []string {
	a := target(s, ev, "artifact_id")
	if a == nil {
		return nil
	}
	entry := ir.ProvenanceEntry{EventID: ev.EventID, Timestamp: ev.Timestamp}
	entry.Action, _ = ev.Payload.String("action")
	if refs, ok := ev.Payload.Strings("source_refs"); ok && len(refs) > 0 {
		entry.Ref = strings.Join(refs, ",")
	}
	a.Provenance = append(a.Provenance, entry)
	return []string{a.ID}
}

func reduceSession(*State, ir.Event) []string {
	return nil
}

// target resolves the artifact named by key. Events that reference an
// artifact not yet seen are recorded as unhandled.
func target(s *State, ev ir.Event, key string) *ir.Artifact {
	id, _ := ev.Payload.String(key)
	a := s.Artifacts[id]
	if a == nil {
		s.Unhandled = append(s.Unhandled, ev.EventID)
	}
	return a
}

func observe(a *ir.Artifact, ev ir.Event, contentHash string, size *int64) {
	a.Observations = append(a.Observations, ir.Observation{
		EventID:     ev.EventID,
		Sequence:    ev.Sequence,
		Kind:        ev.Kind,
		Timestamp:   ev.Timestamp,
		ContentHash: contentHash,
		SizeBytes:   size,
	})
	if ev.Timestamp.After(a.LastSeen) {
		a.LastSeen = ev.Timestamp
	}
	a.Temporal.Freshness = ir.ScoreOne
}

func setSize(a *ir.Artifact, size int64, ev ir.Event) {
	fp := &a.Fingerprint
	if fp.SizeBytes != nil && *fp.SizeBytes != size {
		a.Temporal.Changes = append(a.Temporal.Changes, ir.Change{EventID: ev.EventID, Field: "size_bytes", Timestamp: ev.Timestamp})
	}
	fp.SizeBytes = &size
	if fp.Sources == nil {
		fp.Sources = map[string]string{}
	}
	fp.Sources["size_bytes"] = ev.EventID
}

func decodeReasoning(payload ir.IRObject) []ir.Contribution {
	arr, _ := payload.Array("reasoning")
	out := make([]ir.Contribution, 0, len(arr))
	for _, v := range arr {
		obj, ok := v.(ir.IRObject)
		if !ok {
			continue
		}
		c := ir.Contribution{}
		c.EventID, _ = obj.String("event_id")
		c.Signal, _ = obj.String("signal")
		c.Delta, _ = obj.Score("delta")
		out = append(out, c)
	}
	return out
}

// EncodeReasoning is the payload form of a contribution list, the inverse
// of what the CONFIDENCE_UPDATED rule reads.
func EncodeReasoning(cs []ir.Contribution) ir.IRArray {
	arr := make(ir.IRArray, len(cs))
	for i, c := range cs {
		arr[i] = ir.IRObject{
			"event_id": ir.IRString(c.EventID),
			"signal":   ir.IRString(c.Signal),
			"delta":    ir.IRInt(c.Delta),
		}
	}
	return arr
}

// TagKey is the TagSources key for tag in group.
func TagKey(group, tag string) string {
	return group + "/" + tag
}

func sortedSet(values []string) []string {
	out := slices.Clone(values)
	sort.Strings(out)
	return slices.Compact(out)
}

func insertSorted(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return sortedSet(append(slices.Clone(ids), id))
}

func removeLocator(s *State, locator, id string) {
	ids := slices.DeleteFunc(slices.Clone(s.Locators[locator]), func(x string) bool { return x == id })
	if len(ids) == 0 {
		delete(s.Locators, locator)
		return
	}
	s.Locators[locator] = ids
}
