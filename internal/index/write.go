package index

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/atlas/internal/ir"
	"github.com/roach88/atlas/internal/projection"
)

const (
	metaPosition = "position"
	metaChecksum = "checksum"
)

// Position returns the ledger position and event checksum the index
// reflects; (0, "") when it was never loaded.
func (x *Index) Position(ctx context.Context) (uint64, string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT key, value FROM meta ORDER BY key`)
	if err != nil {
		return 0, "", fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	var pos uint64
	var sum string
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return 0, "", fmt.Errorf("scan meta: %w", err)
		}
		switch k {
		case metaPosition:
			if pos, err = strconv.ParseUint(v, 10, 64); err != nil {
				return 0, "", fmt.Errorf("parse position: %w", err)
			}
		case metaChecksum:
			sum = v
		}
	}
	return pos, sum, rows.Err()
}

// Rebuild discards the index and reloads it from a full replay of src.
func (x *Index) Rebuild(ctx context.Context, src projection.Source) (*projection.State, error) {
	s, err := projection.Project(ctx, src, 0)
	if err != nil {
		return nil, fmt.Errorf("index rebuild: %w", err)
	}
	if err := x.Load(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the whole index with s in one transaction.
func (x *Index) Load(ctx context.Context, s *projection.State) error {
	return x.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"conflict_artifacts", "conflicts", "roles", "tags", "relations", "artifacts"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, id := range s.ArtifactIDs() {
			if err := insertArtifact(ctx, tx, s.Artifact(id)); err != nil {
				return err
			}
		}
		return writeConflictsAndMeta(ctx, tx, s)
	})
}

// Sync brings the index from its stored position up to s, rewriting only
// artifacts referenced by events after that position (directly or through
// the conflict they resolve) plus any whose derived columns no longer match
// s. It falls back to
// Load when the stored position is not a prefix of the ledger s was folded
// from. It returns the number of artifacts rewritten.
func (x *Index) Sync(ctx context.Context, src projection.Source, s *projection.State) (int, error) {
	pos, sum, err := x.Position(ctx)
	if err != nil {
		return 0, err
	}
	if pos == s.Position && sum == s.Checksum {
		return 0, nil
	}

	prefix := pos > 0 && pos < s.Position
	if prefix {
		at, err := src.Read(ctx, pos, pos)
		if err != nil {
			return 0, fmt.Errorf("index sync: %w", err)
		}
		prefix = len(at) == 1 && at[0].Checksum == sum
	}
	if !prefix {
		if err := x.Load(ctx, s); err != nil {
			return 0, err
		}
		return len(s.Artifacts), nil
	}

	events, err := src.Read(ctx, pos+1, s.Position)
	if err != nil {
		return 0, fmt.Errorf("index sync: %w", err)
	}
	var changed []string
	for _, ev := range events {
		changed = append(changed, ev.ArtifactRefs()...)
		if cid, ok := ev.Payload.String("conflict_id"); ok {
			if c, ok := s.Conflict(cid); ok {
				changed = append(changed, c.ArtifactIDs...)
			}
		}
	}
	drifted, err := x.drifted(ctx, s)
	if err != nil {
		return 0, fmt.Errorf("index sync: %w", err)
	}
	changed = append(changed, drifted...)
	slices.Sort(changed)
	changed = slices.Compact(changed)

	var n int
	err = x.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range changed {
			if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE artifact_id = ?`, id); err != nil {
				return fmt.Errorf("delete artifact %s: %w", id, err)
			}
			a := s.Artifact(id)
			if a == nil {
				continue
			}
			if err := insertArtifact(ctx, tx, a); err != nil {
				return err
			}
			n++
		}
		for _, table := range []string{"conflict_artifacts", "conflicts"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return writeConflictsAndMeta(ctx, tx, s)
	})
	return n, err
}

// drifted lists artifacts whose indexed row is missing or disagrees with s
// on a derived column. Confidence and the conflicted flag can change
// without an event naming the artifact.
func (x *Index) drifted(ctx context.Context, s *projection.State) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT artifact_id, locator, content_hash, lifecycle, confidence, conflicted, last_seen
		FROM artifacts
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type derived struct {
		locator, hash, lifecycle, lastSeen string
		confidence                         int64
		conflicted                         bool
	}
	indexed := make(map[string]derived)
	for rows.Next() {
		var id string
		var d derived
		if err := rows.Scan(&id, &d.locator, &d.hash, &d.lifecycle, &d.confidence, &d.conflicted, &d.lastSeen); err != nil {
			return nil, err
		}
		indexed[id] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, id := range s.ArtifactIDs() {
		a := s.Artifact(id)
		want := derived{
			locator:    a.Source.Locator,
			hash:       a.Fingerprint.ContentHash,
			lifecycle:  string(a.Lifecycle),
			lastSeen:   ir.FormatTimestamp(a.LastSeen),
			confidence: int64(a.Confidence.Score),
			conflicted: a.Conflicted,
		}
		if got, ok := indexed[id]; !ok || got != want {
			out = append(out, id)
		}
	}
	return out, nil
}

func (x *Index) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertArtifact(ctx context.Context, tx *sql.Tx, a *ir.Artifact) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO artifacts
		(artifact_id, locator, source_type, content_hash, lifecycle, confidence, conflicted, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID,
		a.Source.Locator,
		a.Source.Type,
		a.Fingerprint.ContentHash,
		string(a.Lifecycle),
		int64(a.Confidence.Score),
		a.Conflicted,
		ir.FormatTimestamp(a.FirstSeen),
		ir.FormatTimestamp(a.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}

	for _, r := range a.Relations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (source_id, target_id, relation_type, weight, directional)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, a.ID, r.TargetID, r.Type, int64(r.Weight), r.Directional); err != nil {
			return fmt.Errorf("insert relation %s->%s: %w", a.ID, r.TargetID, err)
		}
	}
	for group, tags := range a.Tags {
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tags (artifact_id, tag_group, tag) VALUES (?, ?, ?)
				ON CONFLICT DO NOTHING
			`, a.ID, group, tag); err != nil {
				return fmt.Errorf("insert tag %s/%s: %w", group, tag, err)
			}
		}
	}
	for _, role := range a.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roles (artifact_id, role) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, a.ID, role); err != nil {
			return fmt.Errorf("insert role %s: %w", role, err)
		}
	}
	return nil
}

func writeConflictsAndMeta(ctx context.Context, tx *sql.Tx, s *projection.State) error {
	for i, c := range s.Conflicts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conflicts (conflict_id, seq, conflict_type, description, detected_at, resolved_by, resolution)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, c.ID, i, c.Type, c.Description, ir.FormatTimestamp(c.DetectedAt), c.ResolvedBy, c.Resolution); err != nil {
			return fmt.Errorf("insert conflict %s: %w", c.ID, err)
		}
		for _, id := range c.ArtifactIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conflict_artifacts (conflict_id, artifact_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, c.ID, id); err != nil {
				return fmt.Errorf("insert conflict artifact: %w", err)
			}
		}
	}

	for k, v := range map[string]string{
		metaPosition: strconv.FormatUint(s.Position, 10),
		metaChecksum: s.Checksum,
	} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	return nil
}
