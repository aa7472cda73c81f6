package derive

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnknown(t *testing.T) {
	for _, v := range []any{nil, -1, -1.0, "-1", "", " -1 ", Unknown()} {
		assert.True(t, IsUnknown(v), "%#v", v)
	}
	for _, v := range []any{0, 12, "12", "abc", false, true, 0.2} {
		assert.False(t, IsUnknown(v), "%#v", v)
	}
}

func TestToNumber(t *testing.T) {
	cases := []struct {
		in   Value
		want Value
	}{
		{Text("1,200"), Number(1200)},
		{Text("12.5"), Number(12.5)},
		{Text("1,234.75"), Number(1234.75)},
		{Text(" 7 "), Number(7)},
		{Text("twelve"), Unknown()},
		{Text("1.2.3"), Unknown()},
		{Text("-1"), Unknown()},
		{Unknown(), Unknown()},
		{Number(3), Number(3)},
		{Bool(true), Bool(true)},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.in.ToNumber(), "ToNumber(%v)", tc.in)
	}
}

func TestNormalizeKeepsFreeText(t *testing.T) {
	assert.Equal(t, Text("ACME Pharma"), Normalize("ACME Pharma"))
	assert.Equal(t, Number(40), Normalize("40"))
	assert.Equal(t, Number(40), Normalize(json.Number("40")))
	assert.Equal(t, Number(1000), Normalize(json.Number("1e3")))
	assert.Equal(t, Bool(false), Normalize(false))
	assert.True(t, Normalize(-1).IsUnknown())
}

func TestNormalizeFieldKeepsIdentifiersText(t *testing.T) {
	assert.Equal(t, Text("001"), NormalizeField(FieldStudyNumber, "001"))
	assert.Equal(t, Text("2024"), NormalizeField(FieldStudyNumber, 2024))
	assert.Equal(t, Text("0042"), NormalizeField(FieldStudyNumber, json.Number("0042")))
	assert.Equal(t, Text("1,000"), NormalizeField(FieldSponsor, "1,000"))
	assert.True(t, NormalizeField(FieldSponsor, "").IsUnknown())
	assert.Equal(t, Number(40), NormalizeField(FieldNumSubj, "40"))
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Value{"a": Unknown(), "b": Number(3), "c": Number(2.5), "d": Bool(true)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":null,"b":3,"c":2.5,"d":true}`, string(b))

	var got map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"a":-1,"b":"-1","c":"","d":null,"e":4}`), &got))
	for _, k := range []string{"a", "b", "c", "d"} {
		assert.True(t, got[k].IsUnknown(), k)
	}
	assert.Equal(t, Number(4), got["e"])
}

func TestSanitized(t *testing.T) {
	assert.Equal(t, "", Unknown().Sanitized())
	assert.Equal(t, int64(18), Number(18).Sanitized())
	assert.Equal(t, 19.5, Number(19.5).Sanitized())
}
