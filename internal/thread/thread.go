// Package thread interprets what observers saw. It proposes tags, roles
// and containment relations for artifacts from their locators.
//
// Everything it emits is a proposal carrying a score. It can be wrong, and
// it never overwrites or retracts a recorded fact; contradictions between
// its proposals and other facts surface as conflicts.
package thread

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/atlas/internal/ir"
)

// Module is the actor recorded on proposals.
const Module = "thread"

// RelationContains links a directory to an entry directly inside it.
const RelationContains = "contains"

// Handle is the append capability proposals go through.
type Handle interface {
	Append(ctx context.Context, c ir.Candidate) (uint64, error)
	NewEventID() string
	Now() time.Time
}

// Tagging is one tag group's worth of proposed tags.
type Tagging struct {
	Group string
	Tags  []string
	Score ir.Score
}

// Roles is a roles proposal.
type Roles struct {
	Roles []string
	Score ir.Score
}

const (
	extensionScore   ir.Score = 850_000
	patternScore     ir.Score = 700_000
	testScore        ir.Score = 800_000
	dependencyScore  ir.Score = 900_000
	buildOutputScore ir.Score = 700_000
	roleScore        ir.Score = 600_000
	containsWeight   ir.Score = 950_000
)

var extensionTags = map[string][]string{
	".go":   {"go", "source-code"},
	".py":   {"python", "source-code"},
	".js":   {"javascript", "source-code"},
	".ts":   {"typescript", "source-code"},
	".rs":   {"rust", "source-code"},
	".c":    {"c", "source-code"},
	".h":    {"c", "source-code"},
	".java": {"java", "source-code"},
	".json": {"json", "data"},
	".xml":  {"xml", "data"},
	".csv":  {"csv", "data"},
	".yaml": {"yaml", "config"},
	".yml":  {"yaml", "config"},
	".toml": {"toml", "config"},
	".ini":  {"ini", "config"},
	".cfg":  {"config"},
	".conf": {"config"},
	".md":   {"markdown", "documentation"},
	".txt":  {"text", "documentation"},
	".sh":   {"shell", "script"},
	".ps1":  {"powershell", "script"},
	".sql":  {"sql", "database"},
	".html": {"html", "web"},
	".css":  {"css", "web"},
}

var (
	buildDirs       = []string{"build", "dist", "target", "out", "node_modules", "__pycache__", "vendor"}
	buildExtensions = []string{".o", ".a", ".so", ".pyc", ".class"}
	transientDirs   = []string{"tmp", "temp", ".cache"}
	transientExts   = []string{".tmp", ".swp", ".log", ".bak"}
	dependencyFiles = []string{"go.mod", "go.sum", "package.json", "requirements.txt", "cargo.toml", "pyproject.toml"}
)

// Tags derives tag proposals from rel, a slash-separated path relative to
// the observed root. Structural tags come from the extension, functional
// tags from path patterns.
func Tags(rel string) []Tagging {
	lower := strings.ToLower(rel)
	name := path.Base(lower)

	var out []Tagging
	if tags, ok := extensionTags[path.Ext(name)]; ok {
		out = append(out, Tagging{Group: "structural", Tags: slices.Clone(tags), Score: extensionScore})
	}

	var (
		functional []string
		score      = patternScore
	)
	if strings.Contains(lower, "test") {
		functional = append(functional, "test")
		score = min(score, testScore)
	}
	if strings.Contains(lower, "config") || strings.Contains(lower, "settings") {
		functional = append(functional, "configuration")
	}
	if strings.Contains(lower, "doc") || strings.HasPrefix(name, "readme") {
		functional = append(functional, "documentation")
	}
	if hasSegment(lower, ".github") || hasSegment(lower, ".gitlab-ci.yml") {
		functional = append(functional, "ci")
	}
	if slices.Contains(dependencyFiles, name) {
		functional = append(functional, "dependencies")
		score = dependencyScore
	}
	if len(functional) > 0 {
		out = append(out, Tagging{Group: "functional", Tags: functional, Score: score})
	}
	return out
}

// RolesFor derives a roles proposal from rel. Build output excludes
// source, so an artifact is never proposed as both at once.
func RolesFor(rel string) (Roles, bool) {
	lower := strings.ToLower(rel)
	name := path.Base(lower)
	ext := path.Ext(name)

	var r Roles
	switch {
	case anySegment(lower, buildDirs) || slices.Contains(buildExtensions, ext):
		r = Roles{Roles: []string{"build_output"}, Score: buildOutputScore}
	case slices.Contains(extensionTags[ext], "source-code"):
		r = Roles{Roles: []string{"source"}, Score: roleScore}
	}
	if anySegment(lower, transientDirs) || slices.Contains(transientExts, ext) {
		r.Roles = append(r.Roles, "transient")
		if r.Score == 0 {
			r.Score = roleScore
		}
	}
	return r, len(r.Roles) > 0
}

// hasSegment reports whether seg is one of the directory or file names in
// rel.
func hasSegment(rel, seg string) bool {
	return slices.Contains(strings.Split(rel, "/"), seg)
}

func anySegment(rel string, segs []string) bool {
	dir := path.Dir(rel)
	if dir == "." {
		return false
	}
	for _, s := range strings.Split(dir, "/") {
		if slices.Contains(segs, s) {
			return true
		}
	}
	return false
}

// Interpreter appends proposals through a Handle.
type Interpreter struct {
	Logger *zap.Logger
}

// Artifact proposes tags and roles for the artifact id observed at rel.
func (in *Interpreter) Artifact(ctx context.Context, h Handle, id, rel string) error {
	for _, t := range Tags(rel) {
		if err := in.append(ctx, h, ir.KindTagsProposed, ir.IRObject{
			"artifact_id": ir.IRString(id),
			"tag_group":   ir.IRString(t.Group),
			"tags":        ir.Strs(t.Tags...),
			"score":       ir.IRInt(int64(t.Score)),
		}); err != nil {
			return fmt.Errorf("thread: propose %s tags for %s: %w", t.Group, id, err)
		}
	}
	if r, ok := RolesFor(rel); ok {
		if err := in.append(ctx, h, ir.KindRolesProposed, ir.IRObject{
			"artifact_id": ir.IRString(id),
			"roles":       ir.Strs(r.Roles...),
			"score":       ir.IRInt(int64(r.Score)),
		}); err != nil {
			return fmt.Errorf("thread: propose roles for %s: %w", id, err)
		}
	}
	in.logger().Debug("interpreted", zap.String("artifact_id", id), zap.String("path", rel))
	return nil
}

// Contains proposes that the directory parentID directly contains childID.
func (in *Interpreter) Contains(ctx context.Context, h Handle, parentID, childID string) error {
	if parentID == "" || childID == "" || parentID == childID {
		return nil
	}
	err := in.append(ctx, h, ir.KindRelationProposed, ir.IRObject{
		"source_id":     ir.IRString(parentID),
		"target_id":     ir.IRString(childID),
		"relation_type": ir.IRString(RelationContains),
		"weight":        ir.IRInt(int64(containsWeight)),
		"directional":   ir.IRBool(true),
	})
	if err != nil {
		return fmt.Errorf("thread: propose %s contains %s: %w", parentID, childID, err)
	}
	return nil
}

func (in *Interpreter) append(ctx context.Context, h Handle, kind ir.Kind, payload ir.IRObject) error {
	c, err := ir.NewCandidate(h.NewEventID(), h.Now(), kind, payload)
	if err != nil {
		return err
	}
	c.Actor = &ir.Actor{Module: Module}
	_, err = h.Append(ctx, c)
	return err
}

func (in *Interpreter) logger() *zap.Logger {
	if in.Logger == nil {
		return zap.NewNop()
	}
	return in.Logger
}
