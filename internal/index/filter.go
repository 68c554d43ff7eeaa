package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a condition on indexed artifacts.
//
// The interface is sealed: only types in this package implement it, so
// compileFilter can switch over every case.
type Predicate interface {
	predicateNode()
}

// Equals matches artifacts whose Column equals Value.
type Equals struct {
	Column string
	Value  any
}

// AtLeast matches artifacts whose integer Column is >= Value.
type AtLeast struct {
	Column string
	Value  int64
}

// HasTag matches artifacts carrying Tag in Group.
type HasTag struct {
	Group string
	Tag   string
}

// HasRole matches artifacts carrying Role.
type HasRole struct {
	Role string
}

// And matches artifacts satisfying every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (Equals) predicateNode()  {}
func (AtLeast) predicateNode() {}
func (HasTag) predicateNode()  {}
func (HasRole) predicateNode() {}
func (And) predicateNode()     {}

type columnType int

const (
	textColumn columnType = iota
	intColumn
	boolColumn
)

// filterColumns are the artifacts columns a predicate may name.
var filterColumns = map[string]columnType{
	"artifact_id":  textColumn,
	"locator":      textColumn,
	"source_type":  textColumn,
	"content_hash": textColumn,
	"lifecycle":    textColumn,
	"confidence":   intColumn,
	"conflicted":   boolColumn,
}

// compileFilter turns p into a parameterized query over artifacts. Values
// are never interpolated, and the result is always ordered by artifact_id.
func compileFilter(p Predicate) (string, []any, error) {
	where, params, err := compilePredicate(p)
	if err != nil {
		return "", nil, err
	}
	query := "SELECT " + artifactColumns + " FROM artifacts"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY artifact_id COLLATE BINARY ASC"
	return query, params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "", nil, nil

	case Equals:
		typ, ok := filterColumns[pred.Column]
		if !ok {
			return "", nil, fmt.Errorf("unknown column %q", pred.Column)
		}
		if err := checkValue(pred.Column, typ, pred.Value); err != nil {
			return "", nil, err
		}
		return pred.Column + " = ?", []any{pred.Value}, nil

	case AtLeast:
		if typ, ok := filterColumns[pred.Column]; !ok || typ != intColumn {
			return "", nil, fmt.Errorf("column %q is not an integer column", pred.Column)
		}
		return pred.Column + " >= ?", []any{pred.Value}, nil

	case HasTag:
		return "artifact_id IN (SELECT artifact_id FROM tags WHERE tag_group = ? AND tag = ?)",
			[]any{pred.Group, pred.Tag}, nil

	case HasRole:
		return "artifact_id IN (SELECT artifact_id FROM roles WHERE role = ?)",
			[]any{pred.Role}, nil

	case And:
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			frag, ps, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			if frag == "" {
				continue
			}
			parts = append(parts, frag)
			params = append(params, ps...)
		}
		if len(parts) == 0 {
			return "", nil, nil
		}
		return strings.Join(parts, " AND "), params, nil
	}
	return "", nil, fmt.Errorf("unsupported predicate %T", p)
}

func checkValue(column string, typ columnType, v any) error {
	var ok bool
	switch typ {
	case textColumn:
		_, ok = v.(string)
	case intColumn:
		_, ok = v.(int64)
	case boolColumn:
		_, ok = v.(bool)
	}
	if !ok {
		return fmt.Errorf("column %s: unexpected value %T", column, v)
	}
	return nil
}

// Find returns the artifacts matching p, ordered by artifact_id.
func (x *Index) Find(ctx context.Context, p Predicate) ([]ArtifactRow, error) {
	query, params, err := compileFilter(p)
	if err != nil {
		return nil, fmt.Errorf("index filter: %w", err)
	}
	return x.queryArtifacts(ctx, query, params...)
}

// ParsePredicate parses one filter term:
//
//	column=value       lifecycle=fingerprinted, conflicted=true
//	column>=integer    confidence>=500000
//	tag:group/tag      tag:risk/secret
//	role:name          role:config
func ParsePredicate(term string) (Predicate, error) {
	switch {
	case strings.HasPrefix(term, "tag:"):
		group, tag, ok := strings.Cut(strings.TrimPrefix(term, "tag:"), "/")
		if !ok || group == "" || tag == "" {
			return nil, fmt.Errorf("%q: expected tag:group/tag", term)
		}
		return HasTag{Group: group, Tag: tag}, nil

	case strings.HasPrefix(term, "role:"):
		role := strings.TrimPrefix(term, "role:")
		if role == "" {
			return nil, fmt.Errorf("%q: expected role:name", term)
		}
		return HasRole{Role: role}, nil
	}

	if column, raw, ok := strings.Cut(term, ">="); ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", term, err)
		}
		return AtLeast{Column: column, Value: n}, nil
	}

	column, raw, ok := strings.Cut(term, "=")
	if !ok {
		return nil, fmt.Errorf("%q: expected column=value, column>=n, tag:group/tag or role:name", term)
	}
	typ, known := filterColumns[column]
	if !known {
		return nil, fmt.Errorf("%q: unknown column %q", term, column)
	}
	switch typ {
	case intColumn:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", term, err)
		}
		return Equals{Column: column, Value: n}, nil
	case boolColumn:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", term, err)
		}
		return Equals{Column: column, Value: b}, nil
	}
	return Equals{Column: column, Value: raw}, nil
}

// ParseFilter parses terms into their conjunction.
func ParseFilter(terms []string) (Predicate, error) {
	and := And{}
	for _, term := range terms {
		p, err := ParsePredicate(term)
		if err != nil {
			return nil, err
		}
		and.Predicates = append(and.Predicates, p)
	}
	return and, nil
}
