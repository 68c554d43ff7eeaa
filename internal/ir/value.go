package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"unicode/utf16"
)

// IRValue is a payload value. The set is closed: string, int, bool, array
// and object. Payloads never carry null or floats; fractional quantities
// travel as Score millionths.
type IRValue interface {
	irValue()
}

type IRString string

type IRInt int64

type IRBool bool

// IRArray keeps element order as recorded.
type IRArray []IRValue

// IRObject is an event payload or a nested object inside one. Iterate with
// SortedKeys whenever order is observable.
type IRObject map[string]IRValue

func (IRString) irValue() {}
func (IRInt) irValue()    {}
func (IRBool) irValue()   {}
func (IRArray) irValue()  {}
func (IRObject) irValue() {}

// SortedKeys returns the keys in canonical order: by UTF-16 code units,
// which differs from Go's byte order once keys leave the BMP.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

func compareKeysRFC8785(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

var (
	errNullValue  = errors.New("null is not a payload value")
	errFloatValue = errors.New("fractional numbers are not payload values")
)

// DecodeValue parses exactly one JSON value. Null, floats and integers
// outside int64 are errors, reported with the path of the offending value.
func DecodeValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return fromDecoded("$", raw)
}

func fromDecoded(path string, raw any) (IRValue, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%s: %w", path, errNullValue)
	case string:
		return IRString(v), nil
	case bool:
		return IRBool(v), nil
	case json.Number:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err == nil {
			return IRInt(n), nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%s: %s overflows int64", path, v)
		}
		return nil, fmt.Errorf("%s: %s: %w", path, v, errFloatValue)
	case []any:
		out := make(IRArray, len(v))
		for i, elem := range v {
			val, err := fromDecoded(path+"["+strconv.Itoa(i)+"]", elem)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	case map[string]any:
		out := make(IRObject, len(v))
		for k, elem := range v {
			val, err := fromDecoded(path+"."+k, elem)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: unexpected %T", path, raw)
}

func (obj *IRObject) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(IRObject)
	if !ok {
		return fmt.Errorf("expected object, got %s", KindOf(v))
	}
	*obj = o
	return nil
}

func (arr *IRArray) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	a, ok := v.(IRArray)
	if !ok {
		return fmt.Errorf("expected array, got %s", KindOf(v))
	}
	*arr = a
	return nil
}

// MarshalJSON writes keys in canonical order. Strings are not normalized;
// checksums go through MarshalCanonical instead.
func (obj IRObject) MarshalJSON() ([]byte, error) {
	return appendValue(nil, obj)
}

func (arr IRArray) MarshalJSON() ([]byte, error) {
	return appendValue(nil, arr)
}

// EncodeValue renders v as compact JSON with canonically ordered keys.
func EncodeValue(v IRValue) ([]byte, error) {
	return appendValue(nil, v)
}

func appendValue(dst []byte, v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case IRString:
		b, err := json.Marshal(string(val))
		if err != nil {
			return nil, err
		}
		return append(dst, b...), nil
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
			if dst, err = appendValue(dst, elem); err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return append(dst, ']'), nil
	case IRObject:
		dst = append(dst, '{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				dst = append(dst, ',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			dst = append(append(dst, key...), ':')
			if dst, err = appendValue(dst, val[k]); err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
		}
		return append(dst, '}'), nil
	case nil:
		return nil, errNullValue
	}
	return nil, fmt.Errorf("unknown payload value %T", v)
}

// KindOf names the JSON kind of v.
func KindOf(v IRValue) string {
	switch v.(type) {
	case IRString:
		return "string"
	case IRInt:
		return "int"
	case IRBool:
		return "bool"
	case IRArray:
		return "array"
	case IRObject:
		return "object"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
