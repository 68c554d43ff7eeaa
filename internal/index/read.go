package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/atlas/internal/ir"
)

// ArtifactRow is the indexed summary of one artifact.
type ArtifactRow struct {
	ID          string       `json:"artifact_id"`
	Locator     string       `json:"locator"`
	SourceType  string       `json:"source_type,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	Lifecycle   ir.Lifecycle `json:"lifecycle"`
	Confidence  ir.Score     `json:"confidence"`
	Conflicted  bool         `json:"conflicted"`
	FirstSeen   string       `json:"first_seen"`
	LastSeen    string       `json:"last_seen"`
}

// RelationRow is one outgoing relation.
type RelationRow struct {
	SourceID    string   `json:"source_id"`
	TargetID    string   `json:"target_id"`
	Type        string   `json:"relation_type"`
	Weight      ir.Score `json:"weight"`
	Directional bool     `json:"directional"`
}

// ConflictRow is one recorded conflict.
type ConflictRow struct {
	ID          string   `json:"conflict_id"`
	Type        string   `json:"conflict_type"`
	Description string   `json:"description,omitempty"`
	DetectedAt  string   `json:"detected_at"`
	ArtifactIDs []string `json:"artifact_ids"`
}

const artifactColumns = `artifact_id, locator, source_type, content_hash, lifecycle, confidence, conflicted, first_seen, last_seen`

// ByLocator returns the artifacts observed at locator.
// Ordered by artifact_id.
func (x *Index) ByLocator(ctx context.Context, locator string) ([]ArtifactRow, error) {
	return x.queryArtifacts(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE locator = ?
		ORDER BY artifact_id COLLATE BINARY ASC
	`, locator)
}

// ByContentHash returns the artifacts whose current content hash is hash.
// Ordered by artifact_id.
func (x *Index) ByContentHash(ctx context.Context, hash string) ([]ArtifactRow, error) {
	return x.queryArtifacts(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE content_hash = ?
		ORDER BY artifact_id COLLATE BINARY ASC
	`, hash)
}

// Tagged returns the ids of artifacts carrying tag in group, sorted.
func (x *Index) Tagged(ctx context.Context, group, tag string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT artifact_id FROM tags
		WHERE tag_group = ? AND tag = ?
		ORDER BY artifact_id COLLATE BINARY ASC
	`, group, tag)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RelationsFrom returns the relations whose source is artifactID, ordered
// by type then target.
func (x *Index) RelationsFrom(ctx context.Context, artifactID string) ([]RelationRow, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation_type, weight, directional FROM relations
		WHERE source_id = ?
		ORDER BY relation_type COLLATE BINARY ASC, target_id COLLATE BINARY ASC
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	out := []RelationRow{}
	for rows.Next() {
		var r RelationRow
		var weight int64
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Type, &weight, &r.Directional); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.Weight = ir.Score(weight)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OpenConflicts returns unresolved conflicts in the order they were
// recorded.
func (x *Index) OpenConflicts(ctx context.Context) ([]ConflictRow, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT c.conflict_id, c.conflict_type, c.description, c.detected_at, ca.artifact_id
		FROM conflicts c
		JOIN conflict_artifacts ca ON ca.conflict_id = c.conflict_id
		WHERE c.resolved_by = ''
		ORDER BY c.seq ASC, ca.artifact_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	out := []ConflictRow{}
	for rows.Next() {
		var c ConflictRow
		var artifactID string
		if err := rows.Scan(&c.ID, &c.Type, &c.Description, &c.DetectedAt, &artifactID); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].ID == c.ID {
			out[n-1].ArtifactIDs = append(out[n-1].ArtifactIDs, artifactID)
			continue
		}
		c.ArtifactIDs = []string{artifactID}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (x *Index) queryArtifacts(ctx context.Context, query string, args ...any) ([]ArtifactRow, error) {
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []ArtifactRow{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanArtifact(rows *sql.Rows) (ArtifactRow, error) {
	var a ArtifactRow
	var lifecycle string
	var confidence int64
	if err := rows.Scan(&a.ID, &a.Locator, &a.SourceType, &a.ContentHash, &lifecycle, &confidence, &a.Conflicted, &a.FirstSeen, &a.LastSeen); err != nil {
		return ArtifactRow{}, fmt.Errorf("scan artifact: %w", err)
	}
	a.Lifecycle = ir.Lifecycle(lifecycle)
	a.Confidence = ir.Score(confidence)
	return a, nil
}
