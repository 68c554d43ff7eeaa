package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIRObjectAccessors(t *testing.T) {
	obj := IRObject{
		"name":  IRString("a"),
		"n":     IRInt(3),
		"flag":  IRBool(true),
		"tags":  Strs("x", "y"),
		"mixed": IRArray{IRString("x"), IRInt(1)},
		"inner": IRObject{"k": IRString("v")},
	}

	s, ok := obj.String("name")
	assert.True(t, ok)
	assert.Equal(t, "a", s)

	_, ok = obj.String("n")
	assert.False(t, ok)

	n, ok := obj.Int("n")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	sc, ok := obj.Score("n")
	assert.True(t, ok)
	assert.Equal(t, Score(3), sc)

	b, ok := obj.Bool("flag")
	assert.True(t, ok)
	assert.True(t, b)

	tags, ok := obj.Strings("tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, tags)

	_, ok = obj.Strings("mixed")
	assert.False(t, ok)

	inner, ok := obj.Object("inner")
	assert.True(t, ok)
	assert.Equal(t, IRString("v"), inner["k"])
}

func TestIRObjectClone_IsDeep(t *testing.T) {
	obj := IRObject{"inner": IRObject{"k": IRString("v")}, "arr": Strs("a")}
	cp := obj.Clone()

	cp["inner"].(IRObject)["k"] = IRString("changed")
	cp["arr"].(IRArray)[0] = IRString("b")

	assert.Equal(t, IRString("v"), obj["inner"].(IRObject)["k"])
	assert.Equal(t, IRString("a"), obj["arr"].(IRArray)[0])
}
