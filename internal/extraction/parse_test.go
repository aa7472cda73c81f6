package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-estimator/internal/derive"
)

func TestParseEquivalentReplies(t *testing.T) {
	want := map[string]derive.Value{
		"num_subj":   derive.Int(40),
		"enroll_dur": derive.Int(6),
		"dmc/ia":     derive.Bool(true),
		"sponsor":    derive.Unknown(),
	}

	replies := map[string]string{
		"python fence": "Here is the data:\n```python\n{'num_subj': 40, 'enroll_dur': 6, 'dmc/ia': True, 'sponsor': None}\n```\nLet me know.",
		"json fence":   "```json\n{\"num_subj\": 40, \"enroll_dur\": 6, \"dmc/ia\": true, \"sponsor\": null}\n```",
		"bare fence":   "```\n{'num_subj': 40, 'enroll_dur': 6, 'dmc/ia': True, 'sponsor': None}\n```",
		"braces":       "The values are {'num_subj': 40, 'enroll_dur': 6, 'dmc/ia': True, 'sponsor': None} as requested.",
		"json braces":  `Output: {"num_subj": 40, "enroll_dur": 6, "dmc/ia": true, "sponsor": null}`,
	}

	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(reply)
			require.NoError(t, err)
			require.Len(t, got, len(want))
			for k, v := range want {
				assert.Equal(t, v, derive.Normalize(got[k]), k)
			}
		})
	}
}

func TestLocateBracesRespectsStrings(t *testing.T) {
	body, ok := locateBraces(`note {"text": "a } b \" {", "n": 3} tail {"x": 1}`)
	require.True(t, ok)
	assert.Equal(t, `{"text": "a } b \" {", "n": 3}`, body)
}

func TestLocateBracesUnbalancedReturnsRemainder(t *testing.T) {
	body, ok := locateBraces(`prefix {"a": {"b": 1}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}`, body)

	_, ok = locateBraces("no mapping here")
	assert.False(t, ok)
}

func TestDecodeJSONishSwapsQuotes(t *testing.T) {
	got, err := decodeJSONish(`{'study_number': 'ABC-1', 'dmc/ia': False}`)
	require.NoError(t, err)
	assert.Equal(t, "ABC-1", got["study_number"])
	assert.Equal(t, false, got["dmc/ia"])

	_, err = decodeJSONish(`["not", "a", "map"]`)
	assert.Error(t, err)
}

func TestDecodeLiteralRejectsNonMapping(t *testing.T) {
	_, err := decodeLiteral("[1, 2]")
	assert.Error(t, err)
	_, err = decodeLiteral("a: 1\nb: 2")
	assert.Error(t, err, "block mappings are not dictionary literals")
}

func TestParseChainStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	record := func(name string, ok bool) Decoder {
		return Decoder{Name: name, Decode: func(string) (map[string]any, error) {
			calls = append(calls, name)
			if !ok {
				return nil, errors.New("nope")
			}
			return map[string]any{"by": name}, nil
		}}
	}
	chain := ParseChain{
		Locators: []Locator{{Name: "braces", Locate: locateBraces}},
		Decoders: []Decoder{record("first", false), record("second", true), record("third", true)},
	}

	got, err := chain.Parse("{x}")
	require.NoError(t, err)
	assert.Equal(t, "second", got["by"])
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestParseFailureIsFormatError(t *testing.T) {
	for _, reply := range []string{"", "I could not find anything.", "{'num_subj': 40", "```python\nnum_subj = 40\n```"} {
		_, err := Parse(reply)
		require.Error(t, err, reply)
		assert.ErrorIs(t, err, derive.ErrExtractionFormat, reply)
	}
}
