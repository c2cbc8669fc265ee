package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyTermsResponse_BareArray(t *testing.T) {
	content := `[["alpha", "beta"], ["gamma"]]`
	result := ParseKeyTermsResponse(content, 2)

	require.Len(t, result, 2)
	assert.Equal(t, []string{"alpha", "beta"}, result[0])
	assert.Equal(t, []string{"gamma"}, result[1])
}

func TestParseKeyTermsResponse_ObjectWrapped(t *testing.T) {
	content := `{"key_terms": [["alpha"], ["beta", "gamma"]]}`
	result := ParseKeyTermsResponse(content, 2)

	require.Len(t, result, 2)
	assert.Equal(t, []string{"alpha"}, result[0])
	assert.Equal(t, []string{"beta", "gamma"}, result[1])
}

func TestParseKeyTermsResponse_CodeFenced(t *testing.T) {
	content := "```json\n[[\"alpha\"]]\n```"
	result := ParseKeyTermsResponse(content, 1)

	require.Len(t, result, 1)
	assert.Equal(t, []string{"alpha"}, result[0])
}

func TestParseKeyTermsResponse_MalformedJSON(t *testing.T) {
	result := ParseKeyTermsResponse("not json at all", 3)

	require.Len(t, result, 3)
	for _, terms := range result {
		assert.Empty(t, terms)
	}
}

func TestParseKeyTermsResponse_LengthAlwaysMatchesInput(t *testing.T) {
	cases := map[string]string{
		"too few entries":     `[["a"]]`,
		"too many entries":    `[["a"], ["b"], ["c"], ["d"], ["e"], ["f"]]`,
		"wrong entry type":    `[["a"], "not-a-list", 42]`,
		"object without list": `{"note": "no list here"}`,
		"empty array":         `[]`,
	}

	for name, content := range cases {
		result := ParseKeyTermsResponse(content, 4)
		assert.Len(t, result, 4, name)
		for _, terms := range result {
			assert.NotNil(t, terms, name)
		}
	}
}

func TestParseKeyTermsResponse_CapsAtFiveTerms(t *testing.T) {
	content := `[["a", "b", "c", "d", "e", "f", "g"]]`
	result := ParseKeyTermsResponse(content, 1)

	require.Len(t, result, 1)
	assert.Len(t, result[0], 5)
}

func TestParseKeyTermsResponse_SkipsNonStringTerms(t *testing.T) {
	content := `[["a", 1, null, "b"]]`
	result := ParseKeyTermsResponse(content, 1)

	require.Len(t, result, 1)
	assert.Equal(t, []string{"a", "b"}, result[0])
}
