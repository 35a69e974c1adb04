package labelset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLabelsEmptyExtras(t *testing.T) {
	assert.Equal(t, "1// foo{a=1} 42", AddLabels("1// foo{a=1} 42", ""))
}

func TestAddLabelsIntoEmptySet(t *testing.T) {
	assert.Equal(t, "1// foo{host=h1} 42", AddLabels("1// foo{} 42", "host=h1"))
}

func TestAddLabelsIntoNonEmptySet(t *testing.T) {
	assert.Equal(t, "1// foo{host=h1,a=1} 42", AddLabels("1// foo{a=1} 42", "host=h1"))
}

func TestRemoveLabelsEmptyDrop(t *testing.T) {
	line := "1// foo{a=1,b=2} 42"
	out, err := RemoveLabels(line, nil)
	require.NoError(t, err)
	assert.Equal(t, line, out)
}

func TestRemoveLabelsDropsKey(t *testing.T) {
	out, err := RemoveLabels("1// foo{a=1,b=2} 42", map[string]struct{}{"b": {}})
	require.NoError(t, err)
	assert.Equal(t, "1// foo{a=1} 42", out)
}

func TestRemoveLabelsDropsAll(t *testing.T) {
	out, err := RemoveLabels("1// foo{a=1} 42", map[string]struct{}{"a": {}})
	require.NoError(t, err)
	assert.Equal(t, "1// foo{} 42", out)
}

func TestRemoveLabelsMalformedMissingBrace(t *testing.T) {
	_, err := RemoveLabels("1// foo a=1 42", map[string]struct{}{"a": {}})
	assert.ErrorIs(t, err, ErrParse)
}

func TestRemoveLabelsMalformedMissingValueSeparator(t *testing.T) {
	_, err := RemoveLabels("1// foo{a=1}42", map[string]struct{}{"a": {}})
	assert.ErrorIs(t, err, ErrParse)
}

func TestRemoveLabelsMalformedMissingEquals(t *testing.T) {
	_, err := RemoveLabels("1// foo{a} 42", map[string]struct{}{"a": {}})
	assert.ErrorIs(t, err, ErrParse)
}

// Round-trip property from spec §8: remove_labels(add_labels(l, L), L.keys)
// equals the normalized l, for a line not already containing L's keys.
func TestAddRemoveRoundTrip(t *testing.T) {
	line := "1// foo{a=1} 42"
	added := AddLabels(line, "host=h1,env=prod")
	removed, err := RemoveLabels(added, map[string]struct{}{"host": {}, "env": {}})
	require.NoError(t, err)
	assert.Equal(t, line, removed)
}

func TestEncodeLabelsSortsKeysAndEscapes(t *testing.T) {
	assert.Equal(t, "a=1%2B3,env=prod", EncodeLabels(map[string]string{"env": "prod", "a": "1+3"}))
}

func TestEncodeLabelsEmpty(t *testing.T) {
	assert.Equal(t, "", EncodeLabels(nil))
}
