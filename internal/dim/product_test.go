package dim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeProduct(t *testing.T) {
	got, err := MergeProduct(`{"name":"A & B"}`, "", "")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A & B"}`, got)

	got, err = MergeProduct(`{"name":"A","product_property":{"old":1}}`, `{"new":2}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A","product_property":{"new":2}}`, got)

	got, err = MergeProduct(`{"big":12345678901234567890}`, `"plain"`, `7`)
	require.NoError(t, err)
	assert.Equal(t, `{"big":12345678901234567890,"product_property":"plain","product_specification":7}`, got)
}

func TestMergeProductSkipsNullAndBlankSubRecords(t *testing.T) {
	cases := []struct{ property, specification string }{
		{"null", ""},
		{"  ", ""},
		{" null\n", "\t"},
		{"", "null"},
	}
	for _, c := range cases {
		got, err := MergeProduct(`{"name":"W"}`, c.property, c.specification)
		require.NoError(t, err, "%q %q", c.property, c.specification)
		assert.Equal(t, `{"name":"W"}`, got, "%q %q", c.property, c.specification)
	}

	got, err := MergeProduct(`{"name":"W","product_property":{"old":1}}`, "null", ` {"size":"L"} `)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"W","product_specification":{"size":"L"}}`, got)

	got, err = MergeProduct(`{"name":"W","product_property":{"old":1}}`, "", "")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"W","product_property":{"old":1}}`, got)
}

func TestMergeProductRejectsInvalidSubRecord(t *testing.T) {
	_, err := MergeProduct(`{"name":"W"}`, `{"color":`, "")
	assert.Error(t, err)
}

func TestMergeProductRejectsNonObject(t *testing.T) {
	for _, in := range []string{`null`, `[]`, `"x"`, `{`} {
		_, err := MergeProduct(in, "", "")
		assert.ErrorIs(t, err, ErrNotObject, in)
	}
}

func TestKeyLockSameStripe(t *testing.T) {
	l := NewKeyLock(0)
	unlock := l.Lock("product_1")
	unlock()
	unlock = l.Lock("product_1")
	unlock()
	assert.Len(t, l.stripes, 256)
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "written", Written.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", Result(0).String())
}
