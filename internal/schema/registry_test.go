package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atlas/internal/ir"
)

func TestDefault_DeclaresEveryKind(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ir.Kinds(), reg.Kinds())
	for _, kind := range ir.Kinds() {
		ks, ok := reg.Lookup(kind)
		require.True(t, ok, kind)
		_, hasMeta := ks.Field("meta")
		assert.True(t, hasMeta, "%s should allow meta", kind)
	}
}

func TestDefault_RequiredFields(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	tests := []struct {
		kind     ir.Kind
		required []string
	}{
		{ir.KindArtifactSeen, []string{"artifact_id", "locator"}},
		{ir.KindFingerprintComputed, []string{"artifact_id", "content_hash"}},
		{ir.KindRelationProposed, []string{"relation_type", "source_id", "target_id"}},
		{ir.KindConfidenceUpdated, []string{"artifact_id", "new_score", "reasoning"}},
		{ir.KindSessionStarted, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ks, ok := reg.Lookup(tt.kind)
			require.True(t, ok)
			assert.Equal(t, tt.required, ks.Required())
		})
	}
}

func TestDefault_FieldConstraints(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)

	ks, _ := reg.Lookup(ir.KindFingerprintComputed)
	entropy, ok := ks.Field("entropy_millibits")
	require.True(t, ok)
	require.NotNil(t, entropy.Max)
	assert.Equal(t, int64(8000), *entropy.Max)
	assert.Equal(t, TypeInt, entropy.Type)

	seen, _ := reg.Lookup(ir.KindArtifactSeen)
	kind, ok := seen.Field("artifact_kind")
	require.True(t, ok)
	assert.Equal(t, []string{"local", "remote", "inferred"}, kind.Enum)
	assert.False(t, kind.Required)
}

func TestCompile_RejectsMissingKind(t *testing.T) {
	src := `kinds: ARCHIVED: {description: "x", fields: {}}`
	_, err := Compile([]byte(src), "partial.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestCompile_RejectsUnknownKind(t *testing.T) {
	src := string(defaultSource) + `
kinds: TELEPORTED: {description: "x", fields: {}}
`
	_, err := Compile([]byte(src), "extra.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")
}

func TestCompile_RejectsBadFieldType(t *testing.T) {
	src := string(defaultSource) + `
kinds: ARCHIVED: fields: reason: {type: "float"}
`
	_, err := Compile([]byte(src), "bad.cue")
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.cue")
	src := string(defaultSource) + `
kinds: ARCHIVED: fields: ticket: {type: "string"}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	ks, _ := reg.Lookup(ir.KindArchived)
	_, ok := ks.Field("ticket")
	assert.True(t, ok)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.cue"))
	assert.Error(t, err)
}
