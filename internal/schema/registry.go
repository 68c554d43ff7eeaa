// Package schema is the Event Schema Registry.
//
// The registry is declared in CUE (registry.cue, embedded) and compiled
// through the CUE Go API. A deployment may replace it with its own file as
// long as every known event kind is declared.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/atlas/internal/ir"
)

//go:embed registry.cue
var defaultSource []byte

// FieldType is the declared type of a payload field.
type FieldType string

const (
	TypeString      FieldType = "string"
	TypeInt         FieldType = "int"
	TypeBool        FieldType = "bool"
	TypeArray       FieldType = "array"
	TypeObject      FieldType = "object"
	TypeScore       FieldType = "score"
	TypeStringArray FieldType = "string_array"
	TypeTimestamp   FieldType = "timestamp"
)

// Field declares one payload field.
type Field struct {
	Name     string    `json:"-"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	NonEmpty bool      `json:"nonempty,omitempty"`
	Enum     []string  `json:"enum,omitempty"`

	// Min and Max bound int values, or the element count of arrays.
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// KindSchema is the payload schema for one event kind.
type KindSchema struct {
	Kind        ir.Kind
	Description string

	// Fields is sorted by name.
	Fields []Field

	byName map[string]int
}

// Field returns the declaration for name.
func (k *KindSchema) Field(name string) (Field, bool) {
	i, ok := k.byName[name]
	if !ok {
		return Field{}, false
	}
	return k.Fields[i], true
}

// Required returns the names of required fields in sorted order.
func (k *KindSchema) Required() []string {
	var out []string
	for _, f := range k.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Registry maps every known kind to its payload schema. It is immutable
// after compilation and safe for concurrent use.
type Registry struct {
	kinds map[ir.Kind]*KindSchema
}

// Lookup returns the schema for kind.
func (r *Registry) Lookup(kind ir.Kind) (*KindSchema, bool) {
	s, ok := r.kinds[kind]
	return s, ok
}

// Kinds returns the declared kinds in lexical order.
func (r *Registry) Kinds() []ir.Kind {
	out := make([]ir.Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// Default returns the registry compiled from the embedded declarations.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = Compile(defaultSource, "registry.cue")
	})
	return defaultRegistry, defaultErr
}

// LoadFile compiles a registry from a CUE file on disk.
func LoadFile(path string) (*Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	return Compile(src, path)
}

type kindDecl struct {
	Description string           `json:"description"`
	Fields      map[string]Field `json:"fields"`
}

// Compile builds a registry from CUE source.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
func Compile(src []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	kindsVal := v.LookupPath(cue.ParsePath("kinds"))
	if !kindsVal.Exists() {
		return nil, &CompileError{Field: "kinds", Message: "registry declares no kinds", Pos: v.Pos()}
	}
	if err := kindsVal.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var decls map[string]kindDecl
	if err := kindsVal.Decode(&decls); err != nil {
		return nil, formatCUEError(err)
	}

	reg := &Registry{kinds: make(map[ir.Kind]*KindSchema, len(decls))}
	for name, decl := range decls {
		kind := ir.Kind(name)
		if !kind.Known() {
			return nil, &CompileError{Field: "kinds." + name, Message: "unknown event kind"}
		}
		reg.kinds[kind] = buildKind(kind, decl)
	}

	for _, kind := range ir.Kinds() {
		if _, ok := reg.kinds[kind]; !ok {
			return nil, &CompileError{Field: "kinds." + string(kind), Message: "event kind not declared"}
		}
	}

	return reg, nil
}

func buildKind(kind ir.Kind, decl kindDecl) *KindSchema {
	ks := &KindSchema{
		Kind:        kind,
		Description: decl.Description,
		Fields:      make([]Field, 0, len(decl.Fields)),
		byName:      make(map[string]int, len(decl.Fields)),
	}
	for name, f := range decl.Fields {
		f.Name = name
		ks.Fields = append(ks.Fields, f)
	}
	sort.Slice(ks.Fields, func(i, j int) bool {
		return ks.Fields[i].Name < ks.Fields[j].Name
	})
	for i, f := range ks.Fields {
		ks.byName[f.Name] = i
	}
	return ks
}

// CompileError reports an invalid registry declaration.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
