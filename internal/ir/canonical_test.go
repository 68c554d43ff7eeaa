package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", IRString("seen"), `"seen"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(400000), "400000"},
		{"negative", IRInt(-300000), "-300000"},
		{"bool", IRBool(true), "true"},
		{"go int", 7, "7"},
		{"go bool", false, "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonical_SortsNestedKeys(t *testing.T) {
	payload := IRObject{
		"locator":     IRString("/a"),
		"artifact_id": IRString("a1"),
		"source": IRObject{
			"type":   IRString("filesystem"),
			"access": IRString("read_only"),
		},
	}
	out, err := MarshalCanonical(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"artifact_id":"a1","locator":"/a","source":{"access":"read_only","type":"filesystem"}}`, string(out))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as a surrogate pair starting 0xD800, below U+E000.
	obj := IRObject{"\uE000": IRInt(1), "\U00010000": IRInt(2)}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(out))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical(IRString("<a & b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(out))
}

func TestMarshalCanonical_Escapes(t *testing.T) {
	out, err := MarshalCanonical(IRString("q\"b\\n\nt\tc\x01"))
	require.NoError(t, err)
	assert.Equal(t, `"q\"b\\n\nt\tc\u0001"`, string(out))
}

func TestMarshalCanonical_LineSeparatorsStayLiteral(t *testing.T) {
	out, err := MarshalCanonical(IRString("a\u2028b\u2029c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(out))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := MarshalCanonical(IRObject{decomposed: IRString(decomposed)})
	require.NoError(t, err)
	b, err := MarshalCanonical(IRObject{composed: IRString(composed)})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"float", 0.5},
		{"float in map", map[string]any{"score": 0.4}},
		{"nil", nil},
		{"null in array", IRArray{nil}},
		{"struct", struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMarshalCanonical_GoContainers(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": []any{"x", int64(2)}, "a": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":["x",2]}`, string(out))
}
