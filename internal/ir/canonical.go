package ir

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON, the only encoding
// that is ever hashed. Unlike json.Marshal it sorts keys by UTF-16 code
// units, never HTML-escapes, NFC-normalizes every string and refuses
// floats and null.
//
// v is an IRValue or a tree of plain Go values (string, int, int64, bool,
// []any, []string, map[string]any).
func MarshalCanonical(v any) ([]byte, error) {
	val, err := toIRValue(v)
	if err != nil {
		return nil, err
	}
	return appendCanonical(make([]byte, 0, 128), val)
}

func toIRValue(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, errNullValue
	case IRValue:
		return val, nil
	case string:
		return IRString(val), nil
	case int:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case bool:
		return IRBool(val), nil
	case []string:
		return Strs(val...), nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			conv, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			conv, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	case float32, float64:
		return nil, fmt.Errorf("%v: %w", val, errFloatValue)
	}
	return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
}

func appendCanonical(dst []byte, v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case IRString:
		return appendCanonicalString(dst, string(val)), nil
	case IRInt:
		return strconv.AppendInt(dst, int64(val), 10), nil
	case IRBool:
		return strconv.AppendBool(dst, bool(val)), nil
	case IRArray:
		dst = append(dst, '[')
		for i, elem := range val {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			if dst, err = appendCanonical(dst, elem); err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return append(dst, ']'), nil
	case IRObject:
		return appendCanonicalObject(dst, val)
	case nil:
		return nil, errNullValue
	}
	return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
}

// appendCanonicalObject orders keys after normalization, so two keys that
// differ only in composition collide instead of producing duplicate members.
func appendCanonicalObject(dst []byte, obj IRObject) ([]byte, error) {
	normalized := make(IRObject, len(obj))
	for k, v := range obj {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return nil, fmt.Errorf("keys collide after NFC normalization: %q", nk)
		}
		normalized[nk] = v
	}

	dst = append(dst, '{')
	for i, k := range normalized.SortedKeys() {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(appendCanonicalString(dst, k), ':')
		var err error
		if dst, err = appendCanonical(dst, normalized[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	return append(dst, '}'), nil
}

var shortEscapes = [0x20]string{
	'\b': `\b`,
	'\t': `\t`,
	'\n': `\n`,
	'\f': `\f`,
	'\r': `\r`,
}

// appendCanonicalString escapes quote, backslash and C0 controls only.
// U+2028 and U+2029 stay literal.
func appendCanonicalString(dst []byte, s string) []byte {
	const hex = "0123456789abcdef"
	dst = append(dst, '"')
	for _, r := range norm.NFC.String(s) {
		switch {
		case r == '"' || r == '\\':
			dst = append(dst, '\\', byte(r))
		case r < 0x20 && shortEscapes[r] != "":
			dst = append(dst, shortEscapes[r]...)
		case r < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hex[r>>4], hex[r&0xf])
		default:
			dst = utf8.AppendRune(dst, r)
		}
	}
	return append(dst, '"')
}
