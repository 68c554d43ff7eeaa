package schema

import (
	"fmt"
	"slices"

	"github.com/roach88/atlas/internal/faults"
	"github.com/roach88/atlas/internal/ir"
)

// Check validates payload against the kind schema and returns every
// violation found. Paths are prefixed with "payload.".
func (k *KindSchema) Check(payload ir.IRObject) []faults.Violation {
	var out []faults.Violation

	for _, f := range k.Fields {
		v, ok := payload[f.Name]
		if !ok {
			if f.Required {
				out = append(out, faults.Violation{Path: "payload." + f.Name, Message: "required field missing"})
			}
			continue
		}
		out = append(out, f.Check("payload."+f.Name, v)...)
	}

	for _, name := range payload.SortedKeys() {
		if _, ok := k.byName[name]; !ok {
			out = append(out, faults.Violation{Path: "payload." + name, Message: fmt.Sprintf("field not declared for %s", k.Kind)})
		}
	}

	return out
}

// Check validates a single value against the field declaration.
func (f Field) Check(path string, v ir.IRValue) []faults.Violation {
	fail := func(format string, args ...any) []faults.Violation {
		return []faults.Violation{{Path: path, Message: fmt.Sprintf(format, args...)}}
	}

	switch f.Type {
	case TypeString, TypeTimestamp:
		s, ok := v.(ir.IRString)
		if !ok {
			return fail("expected %s, got %s", f.Type, ir.KindOf(v))
		}
		if f.NonEmpty && s == "" {
			return fail("must be non-empty")
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, string(s)) {
			return fail("value %q not in %v", string(s), f.Enum)
		}
		if f.Type == TypeTimestamp {
			if _, err := ir.ParseTimestamp(string(s)); err != nil {
				return fail("invalid RFC 3339 timestamp: %v", err)
			}
		}

	case TypeInt:
		n, ok := v.(ir.IRInt)
		if !ok {
			return fail("expected int, got %s", ir.KindOf(v))
		}
		if f.Min != nil && int64(n) < *f.Min {
			return fail("value %d below minimum %d", n, *f.Min)
		}
		if f.Max != nil && int64(n) > *f.Max {
			return fail("value %d above maximum %d", n, *f.Max)
		}

	case TypeScore:
		n, ok := v.(ir.IRInt)
		if !ok {
			return fail("expected score (integer millionths), got %s", ir.KindOf(v))
		}
		if !ir.Score(n).InUnitRange() {
			return fail("score %d outside [0, %d]", n, ir.ScoreScale)
		}

	case TypeBool:
		if _, ok := v.(ir.IRBool); !ok {
			return fail("expected bool, got %s", ir.KindOf(v))
		}

	case TypeObject:
		if _, ok := v.(ir.IRObject); !ok {
			return fail("expected object, got %s", ir.KindOf(v))
		}

	case TypeArray, TypeStringArray:
		arr, ok := v.(ir.IRArray)
		if !ok {
			return fail("expected %s, got %s", f.Type, ir.KindOf(v))
		}
		var out []faults.Violation
		if f.NonEmpty && len(arr) == 0 {
			out = append(out, faults.Violation{Path: path, Message: "must be non-empty"})
		}
		if f.Min != nil && int64(len(arr)) < *f.Min {
			out = append(out, faults.Violation{Path: path, Message: fmt.Sprintf("needs at least %d elements, got %d", *f.Min, len(arr))})
		}
		if f.Max != nil && int64(len(arr)) > *f.Max {
			out = append(out, faults.Violation{Path: path, Message: fmt.Sprintf("allows at most %d elements, got %d", *f.Max, len(arr))})
		}
		if f.Type == TypeStringArray {
			for i, elem := range arr {
				if _, ok := elem.(ir.IRString); !ok {
					out = append(out, faults.Violation{Path: fmt.Sprintf("%s[%d]", path, i), Message: fmt.Sprintf("expected string, got %s", ir.KindOf(elem))})
				}
			}
		}
		return out

	default:
		return fail("unsupported field type %q", f.Type)
	}
	return nil
}
